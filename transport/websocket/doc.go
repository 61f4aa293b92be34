// Package websocket provides the web-message transport for the quiz-race
// server.
//
// The websocket package implements:
//   - HTTP-to-WebSocket upgrade with the per-address connection throttle
//   - A read loop feeding complete logical messages to the session layer
//   - A buffered, single-writer send pump per connection
//   - Ping/pong liveness with read deadlines
//
// Both transports converge on the same session abstraction: the upgrade
// handler is constructed with the same SessionFactory the raw socket
// listener uses, so dispatch and room logic are shared end to end.
//
// Fragmentation:
//
// A single logical message may span multiple physical frames; ReadMessage
// reassembles them before the envelope is decoded. Outbound messages are
// written whole.
//
// Backpressure:
//
// Each connection buffers outbound messages in a channel drained by one
// write pump. A peer that lets the buffer fill is disconnected so that a
// slow consumer can never stall delivery to other room members.
package websocket

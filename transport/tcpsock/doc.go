// Package tcpsock provides the raw persistent-socket transport for the
// quiz-race server.
//
// Each accepted connection gets a dedicated goroutine running a blocking
// read loop over length-prefixed frames (see game/protocol). Before any
// session is created the per-address connection throttle is consulted; an
// address at its ceiling has the connection closed immediately.
//
// Write Path:
//
// Outbound envelopes are framed and written under a per-connection mutex,
// so broadcasts from concurrent room handlers never interleave bytes on
// the wire. A write failure surfaces to the room layer as a failed send
// and tears down only that connection.
package tcpsock

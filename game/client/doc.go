// Package client implements the per-connection session layer of the
// quiz-race server.
//
// The client package implements:
//   - A transport-neutral Conn abstraction for both transport families
//   - The dispatch table from envelope type to handshake or room handler
//   - Per-connection message-rate limiting with hard disconnect
//   - The verification gate on room creation and joining
//   - Clean teardown through the room leave path on disconnect
//
// Lifecycle:
//
// Transports accept a connection, wrap it in a Conn, and create a Session.
// The transport's read loop feeds each complete frame to HandleMessage; a
// non-nil return (rate ceiling exceeded) tells the transport to close the
// connection. When the read loop ends for any reason the transport calls
// Close, which leaves the current room and releases the connection.
//
// Identity:
//
// A session has no identity until its first successful CREATE_ROOM or
// JOIN_ROOM; before that only handshake messages (and CHECK_ROOM/PING)
// are meaningful. Identities are minted server-side and never taken from
// the client.
package client

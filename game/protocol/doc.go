// Package protocol defines the wire protocol for the quiz-race server.
//
// The protocol package implements:
//   - The Envelope message wrapper shared by both transports
//   - The closed vocabulary of client and server message types
//   - Payload records nested inside envelopes (handshake, questions,
//     player state, leaderboard rows, answers, final rankings)
//   - Length-prefixed framing for the raw socket transport
//
// Wire Format:
//
// Every message is a JSON-encoded Envelope:
//
//	{"type": "CREATE_ROOM", "playerId": "", "payload": "{...}"}
//
// Payload is an opaque string. Some types carry plain scalars ("FOUND",
// "MUTED"), others carry a nested JSON record serialized with
// MarshalPayload.
//
// Framing:
//
// The raw socket transport prefixes each envelope with a 4-byte
// little-endian length. The WebSocket transport delivers whole messages,
// so no extra framing is applied there.
//
// Unknown message types are ignored by receivers; they are never fatal.
package protocol

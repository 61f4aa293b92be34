// Package api provides the HTTP surface of the quiz-race server.
//
// The api package implements:
//   - The /ws WebSocket endpoint (delegated to transport/websocket)
//   - GET /api/rooms/{id}: a read-only mirror of the CHECK_ROOM wire
//     operation for lobby screens and scripts
//   - GET /api/stats: registry-level counters for operators
//   - GET /healthz and GET /metrics for probes and Prometheus
//
// The REST surface is deliberately tiny: all gameplay flows through the
// two persistent transports, and nothing here can mutate a room.
package api

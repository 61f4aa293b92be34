// Package room implements the game room state machine and the process-wide
// room registry for the quiz-race server.
//
// The room package implements:
//   - Room lifecycle: lobby → running → paused → running → finished
//   - Roster management with join-time capacity enforcement
//   - Question distribution and one-attempt-per-milestone answer scoring
//   - Leaderboard computation and finish-line tracking
//   - Chat relay with host-controlled muting
//   - Post-game eviction of racers back to the home screen
//
// Ownership:
//
// Each PlayerSession is owned by exactly one Room. The room's single mutex
// serializes every mutation of its roster, question index, scores, and
// timestamps; members of the same room may deliver messages concurrently
// while different rooms proceed fully in parallel.
//
// The host:
//
// The player who created the room is its host for the room's entire life.
// The host holds exclusive rights to start, pause, resume, and mute, is
// excluded from rankings, and closes the room by leaving.
//
// Broadcasts:
//
// All sends are best effort and non-blocking per recipient. A slow or dead
// peer degrades only its own connection, never delivery to other members.
//
// Registry:
//
// Registry is the only process-wide mutable state: a concurrent map from
// room id to Room, created at startup and passed explicitly to the
// connection layer. Rooms remove themselves on closure; a deferred action
// firing after closure finds the entry gone and becomes a no-op.
package room

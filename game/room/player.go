package room

import (
	"hash/fnv"
	"sync"

	"github.com/edungeon/quizrace/game/protocol"
)

// Sender delivers envelopes to one connected peer. Implementations must be
// safe for concurrent use and must not block on slow peers; a failed send
// degrades only that peer's connection.
type Sender interface {
	Send(env *protocol.Envelope) error
}

// PlayerSession is the server-side state of one connected identity. It is
// created on a successful CREATE_ROOM or JOIN_ROOM and owned by exactly
// one room; all mutable fields except the room reference are guarded by
// that room's lock.
type PlayerSession struct {
	ID   string
	Name string

	Score                int
	LastX, LastY         float64
	CurrentQuestionIndex int
	HasReachedFinish     bool
	FinishTime           float64 // seconds from game start to finish line

	milestones map[uint32]struct{}
	sender     Sender

	mu     sync.Mutex
	roomID string
}

// NewPlayerSession creates a session for a connected peer. The identity may
// still be empty; it is assigned when the handshake succeeds.
func NewPlayerSession(id, name string, sender Sender) *PlayerSession {
	return &PlayerSession{
		ID:         id,
		Name:       name,
		sender:     sender,
		milestones: make(map[uint32]struct{}),
	}
}

// Send delivers an envelope to this player's connection, best effort.
func (p *PlayerSession) Send(env *protocol.Envelope) {
	if p.sender == nil {
		return
	}
	// A write failure tears down that connection at the transport layer;
	// it must never stall or fail the caller.
	_ = p.sender.Send(env)
}

// RoomID returns the id of the room this player is currently in, or "".
// The room itself is resolved through the registry on each access so a
// closed room can never be reached through a stale pointer.
func (p *PlayerSession) RoomID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roomID
}

func (p *PlayerSession) setRoom(id string) {
	p.mu.Lock()
	p.roomID = id
	p.mu.Unlock()
}

// MilestoneCompleted reports whether this player has already answered the
// encounter identified by monsterID.
func (p *PlayerSession) MilestoneCompleted(monsterID string) bool {
	_, done := p.milestones[milestoneHash(monsterID)]
	return done
}

// MarkMilestone records an encounter as consumed, right or wrong.
func (p *PlayerSession) MarkMilestone(monsterID string) {
	p.milestones[milestoneHash(monsterID)] = struct{}{}
}

// State returns the player's public wire record.
func (p *PlayerSession) State() protocol.PlayerState {
	return protocol.PlayerState{
		PlayerID:   p.ID,
		PlayerName: p.Name,
		X:          p.LastX,
		Y:          p.LastY,
		Score:      p.Score,
	}
}

func milestoneHash(monsterID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(monsterID))
	return h.Sum32()
}

package room

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/edungeon/quizrace/metrics"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
)

// Registry is the process-wide map of open rooms. It is the only
// process-wide mutable state; it is created at startup and passed
// explicitly to whatever constructs connection sessions. All access is by
// exact id; nothing iterates rooms on the hot path.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// Add registers a room. A second room with the same id always fails with
// ErrRoomExists, regardless of timing.
func (reg *Registry) Add(r *Room) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.rooms[r.ID()]; exists {
		return ErrRoomExists
	}
	reg.rooms[r.ID()] = r

	metrics.RoomsCreated.Inc()
	metrics.RoomsOpen.Set(float64(len(reg.rooms)))
	reg.logger.Info().Str("room", r.ID()).Str("host", r.HostID()).Int("max_players", r.MaxPlayers()).Msg("room registered")
	return nil
}

// Get returns the room with the given id.
func (reg *Registry) Get(id string) (*Room, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, exists := reg.rooms[id]
	if !exists {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// Len returns the number of open rooms.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// remove drops the entry for id if it still maps to r. The pointer check
// keeps a deferred action from removing a different room that reused the id.
func (reg *Registry) remove(id string, r *Room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if current, exists := reg.rooms[id]; !exists || current != r {
		return
	}
	delete(reg.rooms, id)
	metrics.RoomsOpen.Set(float64(len(reg.rooms)))
	reg.logger.Info().Str("room", id).Msg("room removed")
}

// CloseAll closes every open room, used at server shutdown.
func (reg *Registry) CloseAll(reason string) {
	reg.mu.RLock()
	open := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		open = append(open, r)
	}
	reg.mu.RUnlock()

	for _, r := range open {
		r.Close(reason)
	}
}

// Stats returns a point-in-time snapshot for the HTTP surface.
func (reg *Registry) Stats() map[string]any {
	reg.mu.RLock()
	open := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		open = append(open, r)
	}
	reg.mu.RUnlock()

	byState := make(map[State]int)
	totalPlayers := 0
	for _, r := range open {
		byState[r.State()]++
		totalPlayers += r.PlayerCount()
	}
	return map[string]any{
		"total_rooms":   len(open),
		"total_players": totalPlayers,
		"by_state":      byState,
	}
}

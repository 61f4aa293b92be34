package room

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edungeon/quizrace/game/protocol"
	"github.com/edungeon/quizrace/metrics"
)

// State is the room lifecycle phase. Lobby, Running, and Paused are
// re-entrant; Finished is terminal for the room instance.
type State string

const (
	StateLobby    State = "lobby"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateFinished State = "finished"
)

const (
	// DefaultMaxPlayers caps a room when the handshake does not say otherwise.
	DefaultMaxPlayers = 4

	// pointsPerCorrectAnswer is the fixed reward; wrong answers carry no penalty.
	pointsPerCorrectAnswer = 10
)

// evictionDelay is how long after the final summary the remaining racers
// are sent back to the home screen.
var evictionDelay = 10 * time.Second

var (
	ErrRoomFull   = errors.New("room is full")
	ErrRoomClosed = errors.New("room is closed")
)

// Room is one game session: a roster of players, an ordered question set,
// and the lobby→running→paused→finished state machine. All mutation is
// serialized by a single mutex; members of the same room may deliver
// messages concurrently, different rooms proceed fully in parallel.
type Room struct {
	id     string
	hostID string

	mu         sync.Mutex
	players    map[string]*PlayerSession
	questions  []protocol.Question
	chatMuted  bool
	maxPlayers int
	state      State
	startTime  time.Time
	pausedAt   time.Time // zero when no pause is active
	closed     bool
	evictTimer *time.Timer

	registry *Registry
	logger   zerolog.Logger
	now      func() time.Time
}

// NewRoom creates a room owned by hostID. The registry reference is used
// for self-removal on closure and may be nil in tests.
func NewRoom(id, hostID string, maxPlayers int, questions []protocol.Question, registry *Registry, logger zerolog.Logger) *Room {
	if maxPlayers <= 0 {
		maxPlayers = DefaultMaxPlayers
	}
	return &Room{
		id:         id,
		hostID:     hostID,
		players:    make(map[string]*PlayerSession),
		questions:  questions,
		maxPlayers: maxPlayers,
		state:      StateLobby,
		registry:   registry,
		logger:     logger.With().Str("room", id).Logger(),
		now:        time.Now,
	}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// HostID returns the id of the player who created the room. It never
// changes for the life of the room.
func (r *Room) HostID() string { return r.hostID }

// State returns the current lifecycle phase.
func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// PlayerCount returns the current roster size.
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// MaxPlayers returns the join-time capacity.
func (r *Room) MaxPlayers() int { return r.maxPlayers }

// IsFull reports whether the roster is at capacity.
func (r *Room) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players) >= r.maxPlayers
}

// QuestionCount returns the size of the loaded question set.
func (r *Room) QuestionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.questions)
}

// Join admits a player, at-capacity checks and admission happening
// atomically. When ack is non-nil it is delivered to the joiner first, so
// the new member learns its own id before anyone is told it exists. The
// joiner then receives SYNC_PLAYERS with the prior roster (its own row
// excluded), after existing members got PLAYER_JOINED.
func (r *Room) Join(p *PlayerSession, ack *protocol.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	if len(r.players) >= r.maxPlayers {
		return ErrRoomFull
	}
	if _, exists := r.players[p.ID]; exists {
		return nil
	}

	existing := make([]*PlayerSession, 0, len(r.players))
	for _, member := range r.players {
		existing = append(existing, member)
	}

	r.players[p.ID] = p
	p.setRoom(r.id)

	if ack != nil {
		p.Send(ack)
	}

	statePayload, err := protocol.MarshalPayload(p.State())
	if err == nil {
		joined := &protocol.Envelope{Type: protocol.TypePlayerJoined, Payload: statePayload}
		for _, member := range existing {
			member.Send(joined)
		}
	}

	roster := make([]protocol.PlayerState, 0, len(existing))
	for _, member := range existing {
		roster = append(roster, member.State())
	}
	if rosterPayload, err := protocol.MarshalPayload(roster); err == nil {
		p.Send(&protocol.Envelope{Type: protocol.TypeSyncPlayers, Payload: rosterPayload})
	}

	r.logger.Info().Str("player", p.ID).Str("name", p.Name).Int("players", len(r.players)).Msg("player joined")
	return nil
}

// Leave removes a player and announces the departure. If the departing
// player is the host the room closes: every remaining member is evicted
// and the room removes itself from the registry.
func (r *Room) Leave(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.players[playerID]
	if !exists {
		return
	}

	delete(r.players, playerID)
	p.setRoom("")

	r.broadcastLocked(&protocol.Envelope{Type: protocol.TypePlayerLeft, Payload: playerID})
	r.logger.Info().Str("player", playerID).Msg("player left")

	if playerID == r.hostID {
		r.closeLocked("host left the room")
	}
}

// Close evicts all members and removes the room from the registry.
func (r *Room) Close(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked(reason)
}

func (r *Room) closeLocked(reason string) {
	if r.closed {
		return
	}
	r.closed = true

	if r.evictTimer != nil {
		r.evictTimer.Stop()
	}

	destroyed := &protocol.Envelope{Type: protocol.TypeRoomDestroyed, Payload: reason}
	for _, p := range r.players {
		p.Send(destroyed)
		p.setRoom("")
	}
	r.players = make(map[string]*PlayerSession)
	r.questions = nil

	if r.registry != nil {
		r.registry.remove(r.id, r)
	}
	r.logger.Info().Str("reason", reason).Msg("room closed")
}

// HandleEnvelope routes gameplay messages from a member. Unknown types are
// ignored; malformed payloads are dropped as protocol errors.
func (r *Room) HandleEnvelope(p *PlayerSession, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeMove:
		r.handleMove(p, env.Payload)
	case protocol.TypeRequestQuestion:
		r.handleRequestQuestion(p, env.Payload)
	case protocol.TypeAnswer:
		r.handleAnswer(p, env.Payload)
	case protocol.TypeReachedFinish:
		r.handleReachedFinish(p)
	default:
		r.logger.Debug().Str("type", env.Type).Msg("ignoring unknown envelope type")
	}
}

// handleMove records the new position and relays the payload verbatim to
// every other member. Coordinates are not validated server-side; the relay
// trusts the client and leaves cheat detection to tooling outside this core.
func (r *Room) handleMove(p *PlayerSession, payload string) {
	var state protocol.PlayerState
	if err := protocol.UnmarshalPayload(payload, &state); err != nil {
		r.logger.Debug().Err(err).Msg("dropping malformed MOVE payload")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isMemberLocked(p) {
		return
	}

	p.LastX, p.LastY = state.X, state.Y
	r.broadcastExceptLocked(&protocol.Envelope{
		Type:     protocol.TypeMove,
		PlayerID: p.ID,
		Payload:  payload,
	}, p.ID)
}

// handleRequestQuestion serves the player's next question for a milestone
// encounter. Re-encountering a consumed milestone is answered with an
// error and nothing else; the answer key is stripped before sending.
func (r *Room) handleRequestQuestion(p *PlayerSession, monsterID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isMemberLocked(p) {
		return
	}

	if p.MilestoneCompleted(monsterID) {
		p.Send(&protocol.Envelope{Type: protocol.TypeError, Payload: "milestone already defeated"})
		return
	}

	if p.CurrentQuestionIndex >= len(r.questions) {
		p.Send(&protocol.Envelope{Type: protocol.TypeOutOfQuestions, Payload: "no questions remaining"})
		return
	}

	question := r.questions[p.CurrentQuestionIndex].Sanitized()
	payload, err := protocol.MarshalPayload(question)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal question")
		return
	}
	p.Send(&protocol.Envelope{Type: protocol.TypeNewQuestion, Payload: payload})
}

// handleAnswer scores one attempt. The milestone is consumed and the
// question index advanced whether the answer was right or wrong: one
// attempt per encounter. A repeat answer for the same milestone is a no-op.
func (r *Room) handleAnswer(p *PlayerSession, payload string) {
	var answer protocol.AnswerPayload
	if err := protocol.UnmarshalPayload(payload, &answer); err != nil {
		r.logger.Debug().Err(err).Msg("dropping malformed ANSWER payload")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isMemberLocked(p) {
		return
	}

	if p.MilestoneCompleted(answer.MonsterID) {
		return
	}
	if p.CurrentQuestionIndex >= len(r.questions) {
		return
	}

	question := r.questions[p.CurrentQuestionIndex]
	p.MarkMilestone(answer.MonsterID)
	p.CurrentQuestionIndex++

	result := protocol.AnswerWrong
	if answer.AnswerIndex == question.CorrectIndex {
		p.Score += pointsPerCorrectAnswer
		result = protocol.AnswerCorrect
	}
	p.Send(&protocol.Envelope{Type: protocol.TypeAnswerResult, Payload: result})

	r.broadcastLeaderboardLocked()
}

// handleReachedFinish records the finish time once per player. A finish is
// only meaningful while the game runs; before START_GAME there is no
// startTime to measure against. When every non-host racer has finished,
// the final summary goes out and the eviction timer is armed.
func (r *Room) handleReachedFinish(p *PlayerSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isMemberLocked(p) || p.HasReachedFinish {
		return
	}
	if r.state != StateRunning {
		return
	}

	p.HasReachedFinish = true
	p.FinishTime = r.now().Sub(r.startTime).Seconds()
	r.logger.Info().Str("player", p.ID).Float64("finish_time", p.FinishTime).Msg("player reached finish")

	r.broadcastLeaderboardLocked()

	racers := 0
	for _, member := range r.players {
		if member.ID == r.hostID {
			continue
		}
		racers++
		if !member.HasReachedFinish {
			return
		}
	}
	if racers > 0 {
		r.sendFinalSummaryLocked()
	}
}

// HandleChat relays a chat line prefixed with the sender's name. While the
// room is muted only the host may speak; everyone else gets an error reply.
func (r *Room) HandleChat(p *PlayerSession, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isMemberLocked(p) {
		return
	}

	if r.chatMuted && p.ID != r.hostID {
		p.Send(&protocol.Envelope{Type: protocol.TypeError, Payload: "chat is muted"})
		return
	}
	r.broadcastLocked(&protocol.Envelope{
		Type:    protocol.TypeChatReceive,
		Payload: p.Name + ": " + message,
	})
}

// HostAction applies a host-only control action. Actions from anyone but
// the host are silently ignored.
func (r *Room) HostAction(p *PlayerSession, action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || p.ID != r.hostID {
		return
	}

	switch action {
	case protocol.ActionStartGame:
		if r.state != StateLobby {
			return
		}
		r.state = StateRunning
		r.startTime = r.now()
		// Clients run their own local countdown after OPEN_GATE before
		// unlocking movement.
		r.broadcastLocked(&protocol.Envelope{Type: protocol.TypeOpenGate})
		r.logger.Info().Msg("game started")

	case protocol.ActionPauseGame:
		if r.state != StateRunning {
			return
		}
		r.state = StatePaused
		r.pausedAt = r.now()
		r.broadcastLocked(&protocol.Envelope{Type: protocol.TypeGamePaused, Payload: "game paused"})

	case protocol.ActionResumeGame:
		if r.state != StatePaused || r.pausedAt.IsZero() {
			return
		}
		// Shift the start forward by the paused duration so elapsed-time
		// scoring is unaffected by the pause interval.
		r.startTime = r.startTime.Add(r.now().Sub(r.pausedAt))
		r.pausedAt = time.Time{}
		r.state = StateRunning
		r.broadcastLocked(&protocol.Envelope{Type: protocol.TypeGameResumed, Payload: "game resumed"})

	case protocol.ActionMuteChat:
		r.setChatMutedLocked(true)

	case protocol.ActionUnmuteChat:
		r.setChatMutedLocked(false)

	default:
		r.logger.Debug().Str("action", action).Msg("ignoring unknown host action")
	}
}

func (r *Room) setChatMutedLocked(muted bool) {
	r.chatMuted = muted
	status := "UNMUTED"
	if muted {
		status = "MUTED"
	}
	r.broadcastLocked(&protocol.Envelope{Type: protocol.TypeChatStatus, Payload: status})
}

// broadcastLeaderboardLocked recomputes and broadcasts the ranking. The
// host spectates and is excluded; rows sort by score descending, then by
// finish time ascending.
func (r *Room) broadcastLeaderboardLocked() {
	ranked := r.rankedLocked()

	rows := make([]protocol.PlayerProgress, 0, len(ranked))
	for _, p := range ranked {
		percent := 0.0
		if len(r.questions) > 0 {
			percent = float64(p.CurrentQuestionIndex) / float64(len(r.questions)) * 100
		}
		rows = append(rows, protocol.PlayerProgress{
			PlayerID:           p.ID,
			PlayerName:         p.Name,
			ProgressPercentage: percent,
			Score:              p.Score,
			IsAlive:            !p.HasReachedFinish,
		})
	}

	payload, err := protocol.MarshalPayload(rows)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal leaderboard")
		return
	}
	r.broadcastLocked(&protocol.Envelope{Type: protocol.TypeProgressUpdate, Payload: payload})
}

func (r *Room) sendFinalSummaryLocked() {
	ranked := r.rankedLocked()

	summary := make([]protocol.FinalRank, 0, len(ranked))
	for _, p := range ranked {
		summary = append(summary, protocol.FinalRank{Name: p.Name, Score: p.Score, Time: p.FinishTime})
	}

	payload, err := protocol.MarshalPayload(summary)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal final summary")
		return
	}

	r.state = StateFinished
	r.broadcastLocked(&protocol.Envelope{Type: protocol.TypeGameOverSummary, Payload: payload})
	r.logger.Info().Int("racers", len(summary)).Msg("game over, summary sent")
	metrics.GamesFinished.Inc()

	r.evictTimer = time.AfterFunc(evictionDelay, r.kickPlayersToHome)
}

// kickPlayersToHome runs on the eviction timer. The room may already be
// gone by then (host left); the registry presence check makes that a no-op.
func (r *Room) kickPlayersToHome() {
	if r.registry != nil {
		current, err := r.registry.Get(r.id)
		if err != nil || current != r {
			return
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	home := &protocol.Envelope{Type: protocol.TypeReturnToHome, Payload: "game finished"}
	for _, p := range r.players {
		if p.ID == r.hostID {
			continue
		}
		p.Send(home)
	}
	r.logger.Info().Msg("sent racers back to home screen")
}

// rankedLocked returns the non-host players ordered by score descending,
// ties broken by ascending finish time.
func (r *Room) rankedLocked() []*PlayerSession {
	ranked := make([]*PlayerSession, 0, len(r.players))
	for _, p := range r.players {
		if p.ID == r.hostID {
			continue
		}
		ranked = append(ranked, p)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].FinishTime < ranked[j].FinishTime
	})
	return ranked
}

func (r *Room) broadcastLocked(env *protocol.Envelope) {
	for _, p := range r.players {
		p.Send(env)
	}
}

func (r *Room) broadcastExceptLocked(env *protocol.Envelope, exceptID string) {
	for _, p := range r.players {
		if p.ID == exceptID {
			continue
		}
		p.Send(env)
	}
}

// isMemberLocked guards against messages from a session the room no longer
// owns, e.g. delivered concurrently with its own leave.
func (r *Room) isMemberLocked(p *PlayerSession) bool {
	if r.closed {
		return false
	}
	_, ok := r.players[p.ID]
	return ok
}

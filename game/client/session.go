package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/edungeon/quizrace/game/protocol"
	"github.com/edungeon/quizrace/game/room"
	"github.com/edungeon/quizrace/metrics"
	"github.com/edungeon/quizrace/verify"
)

// DefaultPacketsPerSecond is the per-connection message-rate ceiling.
const DefaultPacketsPerSecond = 60

// verifyTimeout bounds the outbound call to the verification service so a
// hung endpoint cannot pin the read loop.
const verifyTimeout = 5 * time.Second

// ErrRateLimited is returned by HandleMessage when the sender exceeds the
// message-rate ceiling. The transport must hard-close the connection.
var ErrRateLimited = errors.New("message rate limit exceeded")

// Conn is one physical client connection, either transport family.
// Send must be safe for concurrent use and must not block indefinitely on
// a slow peer.
type Conn interface {
	Send(env *protocol.Envelope) error
	Close() error
	RemoteAddr() string
}

// Session owns one connection and its player identity, dispatches decoded
// envelopes, and unwinds room membership on disconnect. The identity stays
// empty until the first successful CREATE_ROOM or JOIN_ROOM.
type Session struct {
	conn     Conn
	registry *room.Registry
	verifier verify.Verifier
	limiter  *rate.Limiter
	player   *room.PlayerSession
	logger   zerolog.Logger

	closeOnce sync.Once
}

// NewSession wraps a freshly accepted connection. packetsPerSecond caps the
// inbound message rate; zero applies DefaultPacketsPerSecond.
func NewSession(conn Conn, registry *room.Registry, verifier verify.Verifier, packetsPerSecond int, logger zerolog.Logger) *Session {
	if packetsPerSecond <= 0 {
		packetsPerSecond = DefaultPacketsPerSecond
	}
	return &Session{
		conn:     conn,
		registry: registry,
		verifier: verifier,
		limiter:  rate.NewLimiter(rate.Limit(packetsPerSecond), packetsPerSecond),
		player:   room.NewPlayerSession("", "", conn),
		logger:   logger.With().Str("remote", conn.RemoteAddr()).Logger(),
	}
}

// HandleMessage processes one raw frame from the transport read loop. A
// nil return keeps the connection alive; a non-nil return tells the
// transport to tear it down. The rate check runs before any decode.
func (s *Session) HandleMessage(data []byte) error {
	if !s.limiter.Allow() {
		metrics.RateLimitDisconnects.Inc()
		s.logger.Warn().Str("player", s.player.ID).Msg("message rate ceiling exceeded, disconnecting")
		return ErrRateLimited
	}

	env, err := protocol.Decode(data)
	if err != nil {
		metrics.EnvelopesDropped.Inc()
		s.logger.Debug().Err(err).Msg("dropping malformed frame")
		return nil
	}
	metrics.EnvelopesReceived.WithLabelValues(env.Type).Inc()

	s.dispatch(env)
	return nil
}

// Close unwinds the session: room leave, then transport close. Safe to
// call from any teardown path; only the first call has effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if r := s.currentRoom(); r != nil {
			r.Leave(s.player.ID)
		}
		_ = s.conn.Close()
		s.logger.Debug().Str("player", s.player.ID).Msg("session closed")
	})
}

func (s *Session) dispatch(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeCreateRoom:
		s.handleCreateRoom(env)

	case protocol.TypeJoinRoom:
		s.handleJoinRoom(env)

	case protocol.TypeCheckRoom:
		s.handleCheckRoom(env)

	case protocol.TypePing:
		s.send(&protocol.Envelope{Type: protocol.TypePong, Payload: env.Payload})

	case protocol.TypeChatMessage:
		if r := s.currentRoom(); r != nil {
			r.HandleChat(s.player, env.Payload)
		}

	case protocol.TypeHostAction:
		if r := s.currentRoom(); r != nil {
			r.HostAction(s.player, env.Payload)
		}

	default:
		if r := s.currentRoom(); r != nil {
			r.HandleEnvelope(s.player, env)
		} else {
			s.logger.Debug().Str("type", env.Type).Msg("ignoring envelope without a room")
		}
	}
}

func (s *Session) handleCreateRoom(env *protocol.Envelope) {
	var hs protocol.Handshake
	if err := protocol.UnmarshalPayload(env.Payload, &hs); err != nil {
		s.logger.Debug().Err(err).Msg("dropping malformed CREATE_ROOM handshake")
		return
	}
	if s.player.RoomID() != "" {
		s.sendError("already in a room")
		return
	}
	if hs.RoomID == "" {
		s.sendError("room id required")
		return
	}
	if !s.verifyToken(hs.CaptchaToken) {
		s.sendError("verification failed")
		return
	}

	var questions []protocol.Question
	if hs.QuestionsJSON != "" {
		parsed, err := protocol.ParseQuestions(hs.QuestionsJSON)
		if err != nil {
			// The room is still joinable without questions; quiz
			// features are simply inert.
			s.logger.Warn().Err(err).Str("room", hs.RoomID).Msg("question set unparsable, starting without questions")
		} else {
			questions = parsed
		}
	}

	hostID := "Host_" + identitySuffix()
	newRoom := room.NewRoom(hs.RoomID, hostID, hs.MaxPlayers, questions, s.registry, s.logger)
	if err := s.registry.Add(newRoom); err != nil {
		s.sendError("room already exists")
		return
	}

	s.player.ID = hostID
	s.player.Name = hs.PlayerName

	ack := &protocol.Envelope{Type: protocol.TypeRoomCreated, PlayerID: hostID, Payload: "success"}
	if err := newRoom.Join(s.player, ack); err != nil {
		s.logger.Error().Err(err).Str("room", hs.RoomID).Msg("host failed to join own room")
		newRoom.Close("host join failed")
		s.player.ID, s.player.Name = "", ""
		s.sendError("room creation failed")
		return
	}
	s.logger.Info().Str("room", hs.RoomID).Str("host", hostID).Int("questions", len(questions)).Msg("room created")
}

func (s *Session) handleJoinRoom(env *protocol.Envelope) {
	var hs protocol.Handshake
	if err := protocol.UnmarshalPayload(env.Payload, &hs); err != nil {
		s.logger.Debug().Err(err).Msg("dropping malformed JOIN_ROOM handshake")
		return
	}
	if s.player.RoomID() != "" {
		s.sendError("already in a room")
		return
	}
	if !s.verifyToken(hs.CaptchaToken) {
		s.sendError("verification failed")
		return
	}

	target, err := s.registry.Get(hs.RoomID)
	if err != nil {
		s.sendError("room not found")
		return
	}

	guestID := hs.PlayerName + "_" + identitySuffix()
	s.player.ID = guestID
	s.player.Name = hs.PlayerName

	// The ack travels inside the room lock so the joiner learns its own id
	// before any member is told about it.
	ack := &protocol.Envelope{Type: protocol.TypeJoinSuccess, PlayerID: guestID, Payload: "success"}
	if err := target.Join(s.player, ack); err != nil {
		s.player.ID, s.player.Name = "", ""
		switch {
		case errors.Is(err, room.ErrRoomFull):
			s.sendError("room is full")
		default:
			s.sendError("room not found")
		}
		return
	}
}

// handleCheckRoom is a pure read; it requires no identity and mutates
// nothing.
func (s *Session) handleCheckRoom(env *protocol.Envelope) {
	status := protocol.RoomNotFound
	if target, err := s.registry.Get(env.Payload); err == nil {
		if target.IsFull() {
			status = protocol.RoomFull
		} else {
			status = protocol.RoomFound
		}
	}
	s.send(&protocol.Envelope{Type: protocol.TypeCheckRoomResponse, Payload: status})
}

func (s *Session) verifyToken(token string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()
	return s.verifier.Verify(ctx, token)
}

func (s *Session) currentRoom() *room.Room {
	id := s.player.RoomID()
	if id == "" {
		return nil
	}
	r, err := s.registry.Get(id)
	if err != nil {
		return nil
	}
	return r
}

func (s *Session) send(env *protocol.Envelope) {
	_ = s.conn.Send(env)
}

func (s *Session) sendError(reason string) {
	s.send(&protocol.Envelope{Type: protocol.TypeError, Payload: reason})
}

func identitySuffix() string {
	return uuid.NewString()[:8]
}

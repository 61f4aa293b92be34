package client

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edungeon/quizrace/game/protocol"
	"github.com/edungeon/quizrace/game/room"
)

// fakeConn records every envelope the server sends to one client.
type fakeConn struct {
	mu     sync.Mutex
	envs   []*protocol.Envelope
	closed bool
}

func (c *fakeConn) Send(env *protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "203.0.113.9:50000" }

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) byType(envType string) []*protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []*protocol.Envelope
	for _, env := range c.envs {
		if env.Type == envType {
			matched = append(matched, env)
		}
	}
	return matched
}

func (c *fakeConn) count(envType string) int {
	return len(c.byType(envType))
}

func (c *fakeConn) last(envType string) *protocol.Envelope {
	matched := c.byType(envType)
	if len(matched) == 0 {
		return nil
	}
	return matched[len(matched)-1]
}

// allowAll accepts every token, including the empty one.
type allowAll struct{}

func (allowAll) Verify(context.Context, string) bool { return true }

// denyAll rejects every token.
type denyAll struct{}

func (denyAll) Verify(context.Context, string) bool { return false }

func newTestSession(t *testing.T, reg *room.Registry) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	return NewSession(conn, reg, allowAll{}, 0, zerolog.Nop()), conn
}

func deliver(t *testing.T, s *Session, env *protocol.Envelope) {
	t.Helper()
	data, err := protocol.Encode(env)
	require.NoError(t, err)
	require.NoError(t, s.HandleMessage(data))
}

func createRoomEnv(t *testing.T, roomID, name, questionsJSON string, maxPlayers int) *protocol.Envelope {
	t.Helper()
	payload, err := protocol.MarshalPayload(protocol.Handshake{
		PlayerName:    name,
		RoomID:        roomID,
		QuestionsJSON: questionsJSON,
		MaxPlayers:    maxPlayers,
	})
	require.NoError(t, err)
	return &protocol.Envelope{Type: protocol.TypeCreateRoom, Payload: payload}
}

func joinRoomEnv(t *testing.T, roomID, name string) *protocol.Envelope {
	t.Helper()
	payload, err := protocol.MarshalPayload(protocol.Handshake{PlayerName: name, RoomID: roomID})
	require.NoError(t, err)
	return &protocol.Envelope{Type: protocol.TypeJoinRoom, Payload: payload}
}

const sampleQuestions = `[
	{"question":"2+2?","options":["3","4","5","6"],"correctIndex":1},
	{"question":"3*3?","options":["6","7","8","9"],"correctIndex":3}
]`

func TestCreateRoom(t *testing.T) {
	t.Run("success assigns a host identity", func(t *testing.T) {
		reg := room.NewRegistry(zerolog.Nop())
		host, hostConn := newTestSession(t, reg)

		deliver(t, host, createRoomEnv(t, "42", "Hanna", sampleQuestions, 4))

		ack := hostConn.last(protocol.TypeRoomCreated)
		require.NotNil(t, ack)
		assert.True(t, strings.HasPrefix(ack.PlayerID, "Host_"))

		r, err := reg.Get("42")
		require.NoError(t, err)
		assert.Equal(t, 1, r.PlayerCount())
		assert.Equal(t, 2, r.QuestionCount())
	})

	t.Run("duplicate id is rejected", func(t *testing.T) {
		reg := room.NewRegistry(zerolog.Nop())
		first, _ := newTestSession(t, reg)
		deliver(t, first, createRoomEnv(t, "42", "Hanna", "", 4))

		second, secondConn := newTestSession(t, reg)
		deliver(t, second, createRoomEnv(t, "42", "Iris", "", 4))

		assert.Equal(t, "room already exists", secondConn.last(protocol.TypeError).Payload)
		assert.Equal(t, 1, reg.Len())
	})

	t.Run("missing room id is rejected", func(t *testing.T) {
		reg := room.NewRegistry(zerolog.Nop())
		s, conn := newTestSession(t, reg)

		deliver(t, s, createRoomEnv(t, "", "Hanna", "", 4))

		assert.Equal(t, "room id required", conn.last(protocol.TypeError).Payload)
	})

	t.Run("failed verification is rejected", func(t *testing.T) {
		reg := room.NewRegistry(zerolog.Nop())
		conn := &fakeConn{}
		s := NewSession(conn, reg, denyAll{}, 0, zerolog.Nop())

		deliver(t, s, createRoomEnv(t, "42", "Hanna", "", 4))

		assert.Equal(t, "verification failed", conn.last(protocol.TypeError).Payload)
		assert.Zero(t, reg.Len())
	})

	t.Run("unparsable questions start an empty quiz", func(t *testing.T) {
		reg := room.NewRegistry(zerolog.Nop())
		s, conn := newTestSession(t, reg)

		deliver(t, s, createRoomEnv(t, "42", "Hanna", "not json", 4))

		assert.NotNil(t, conn.last(protocol.TypeRoomCreated))
		r, err := reg.Get("42")
		require.NoError(t, err)
		assert.Zero(t, r.QuestionCount())
	})

	t.Run("second create from the same session is rejected", func(t *testing.T) {
		reg := room.NewRegistry(zerolog.Nop())
		s, conn := newTestSession(t, reg)

		deliver(t, s, createRoomEnv(t, "42", "Hanna", "", 4))
		deliver(t, s, createRoomEnv(t, "43", "Hanna", "", 4))

		assert.Equal(t, "already in a room", conn.last(protocol.TypeError).Payload)
		assert.Equal(t, 1, reg.Len())
	})
}

func TestJoinRoom(t *testing.T) {
	t.Run("guest id embeds the chosen name", func(t *testing.T) {
		reg := room.NewRegistry(zerolog.Nop())
		host, _ := newTestSession(t, reg)
		deliver(t, host, createRoomEnv(t, "42", "Hanna", "", 4))

		guest, guestConn := newTestSession(t, reg)
		deliver(t, guest, joinRoomEnv(t, "42", "Ada"))

		ack := guestConn.last(protocol.TypeJoinSuccess)
		require.NotNil(t, ack)
		assert.True(t, strings.HasPrefix(ack.PlayerID, "Ada_"))
	})

	t.Run("unknown room", func(t *testing.T) {
		reg := room.NewRegistry(zerolog.Nop())
		guest, guestConn := newTestSession(t, reg)

		deliver(t, guest, joinRoomEnv(t, "999", "Ada"))

		assert.Equal(t, "room not found", guestConn.last(protocol.TypeError).Payload)
	})

	t.Run("full room resets the identity", func(t *testing.T) {
		reg := room.NewRegistry(zerolog.Nop())
		host, _ := newTestSession(t, reg)
		deliver(t, host, createRoomEnv(t, "42", "Hanna", "", 2))

		first, _ := newTestSession(t, reg)
		deliver(t, first, joinRoomEnv(t, "42", "Ada"))

		late, lateConn := newTestSession(t, reg)
		deliver(t, late, joinRoomEnv(t, "42", "Bob"))

		assert.Equal(t, "room is full", lateConn.last(protocol.TypeError).Payload)

		// The rejected session holds no identity and may join elsewhere.
		host2(t, reg, "43")
		deliver(t, late, joinRoomEnv(t, "43", "Bob"))
		assert.NotNil(t, lateConn.last(protocol.TypeJoinSuccess))
	})
}

// host2 creates a second room so a rejected guest has somewhere to go.
func host2(t *testing.T, reg *room.Registry, roomID string) *Session {
	t.Helper()
	s, _ := newTestSession(t, reg)
	deliver(t, s, createRoomEnv(t, roomID, "Hanna", "", 4))
	return s
}

func TestCheckRoom(t *testing.T) {
	reg := room.NewRegistry(zerolog.Nop())
	host, _ := newTestSession(t, reg)
	deliver(t, host, createRoomEnv(t, "42", "Hanna", "", 1))

	// No identity is required to probe a room.
	probe, probeConn := newTestSession(t, reg)

	t.Run("full", func(t *testing.T) {
		deliver(t, probe, &protocol.Envelope{Type: protocol.TypeCheckRoom, Payload: "42"})
		assert.Equal(t, protocol.RoomFull, probeConn.last(protocol.TypeCheckRoomResponse).Payload)
	})

	t.Run("not found", func(t *testing.T) {
		deliver(t, probe, &protocol.Envelope{Type: protocol.TypeCheckRoom, Payload: "999"})
		assert.Equal(t, protocol.RoomNotFound, probeConn.last(protocol.TypeCheckRoomResponse).Payload)
	})

	t.Run("found", func(t *testing.T) {
		host2(t, reg, "43")
		deliver(t, probe, &protocol.Envelope{Type: protocol.TypeCheckRoom, Payload: "43"})
		assert.Equal(t, protocol.RoomFound, probeConn.last(protocol.TypeCheckRoomResponse).Payload)
	})
}

func TestPingPong(t *testing.T) {
	reg := room.NewRegistry(zerolog.Nop())
	s, conn := newTestSession(t, reg)

	deliver(t, s, &protocol.Envelope{Type: protocol.TypePing, Payload: "1724800000"})

	pong := conn.last(protocol.TypePong)
	require.NotNil(t, pong)
	assert.Equal(t, "1724800000", pong.Payload, "payload echoes for RTT measurement")
}

func TestRateLimit(t *testing.T) {
	reg := room.NewRegistry(zerolog.Nop())
	conn := &fakeConn{}
	s := NewSession(conn, reg, allowAll{}, 5, zerolog.Nop())

	data, err := protocol.Encode(&protocol.Envelope{Type: protocol.TypePing})
	require.NoError(t, err)

	// The bucket holds exactly the per-second burst; one more trips it.
	for i := 0; i < 5; i++ {
		require.NoError(t, s.HandleMessage(data))
	}
	assert.ErrorIs(t, s.HandleMessage(data), ErrRateLimited)
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	reg := room.NewRegistry(zerolog.Nop())
	s, conn := newTestSession(t, reg)

	require.NoError(t, s.HandleMessage([]byte("{{{not json")))
	require.NoError(t, s.HandleMessage([]byte(`{"playerId":"x"}`)), "missing type is malformed")

	// The connection still works after dropped frames.
	deliver(t, s, &protocol.Envelope{Type: protocol.TypePing, Payload: "1"})
	assert.NotNil(t, conn.last(protocol.TypePong))
}

func TestGameplayDispatch(t *testing.T) {
	reg := room.NewRegistry(zerolog.Nop())

	host, hostConn := newTestSession(t, reg)
	deliver(t, host, createRoomEnv(t, "42", "Hanna", sampleQuestions, 4))

	guest, guestConn := newTestSession(t, reg)
	deliver(t, guest, joinRoomEnv(t, "42", "Ada"))

	t.Run("host action starts the game", func(t *testing.T) {
		deliver(t, host, &protocol.Envelope{Type: protocol.TypeHostAction, Payload: protocol.ActionStartGame})
		assert.NotNil(t, guestConn.last(protocol.TypeOpenGate))
	})

	t.Run("guest host action is ignored", func(t *testing.T) {
		deliver(t, guest, &protocol.Envelope{Type: protocol.TypeHostAction, Payload: protocol.ActionPauseGame})
		assert.Zero(t, guestConn.count(protocol.TypeGamePaused))
	})

	t.Run("correct answer scores ten points at half progress", func(t *testing.T) {
		answer, err := protocol.MarshalPayload(protocol.AnswerPayload{AnswerIndex: 1, MonsterID: "m1"})
		require.NoError(t, err)
		deliver(t, guest, &protocol.Envelope{Type: protocol.TypeAnswer, Payload: answer})

		assert.Equal(t, protocol.AnswerCorrect, guestConn.last(protocol.TypeAnswerResult).Payload)

		var rows []protocol.PlayerProgress
		require.NoError(t, protocol.UnmarshalPayload(hostConn.last(protocol.TypeProgressUpdate).Payload, &rows))
		require.Len(t, rows, 1)
		assert.Equal(t, 10, rows[0].Score)
		assert.InDelta(t, 50.0, rows[0].ProgressPercentage, 0.001)
	})

	t.Run("sole racer finishing ends the game immediately", func(t *testing.T) {
		deliver(t, guest, &protocol.Envelope{Type: protocol.TypeReachedFinish})

		env := hostConn.last(protocol.TypeGameOverSummary)
		require.NotNil(t, env)

		var summary []protocol.FinalRank
		require.NoError(t, json.Unmarshal([]byte(env.Payload), &summary))
		require.Len(t, summary, 1)
		assert.Equal(t, "Ada", summary[0].Name)
		assert.Equal(t, 10, summary[0].Score)
	})

	t.Run("chat relays through the room", func(t *testing.T) {
		deliver(t, guest, &protocol.Envelope{Type: protocol.TypeChatMessage, Payload: "gg"})
		assert.Equal(t, "Ada: gg", hostConn.last(protocol.TypeChatReceive).Payload)
	})

	t.Run("gameplay without a room is ignored", func(t *testing.T) {
		loner, lonerConn := newTestSession(t, reg)
		deliver(t, loner, &protocol.Envelope{Type: protocol.TypeReachedFinish})
		assert.Empty(t, lonerConn.envs)
	})
}

func TestSessionClose(t *testing.T) {
	t.Run("guest close leaves the room", func(t *testing.T) {
		reg := room.NewRegistry(zerolog.Nop())
		host, hostConn := newTestSession(t, reg)
		deliver(t, host, createRoomEnv(t, "42", "Hanna", "", 4))

		guest, guestConn := newTestSession(t, reg)
		deliver(t, guest, joinRoomEnv(t, "42", "Ada"))

		guest.Close()

		assert.True(t, guestConn.isClosed())
		assert.NotNil(t, hostConn.last(protocol.TypePlayerLeft))
		r, err := reg.Get("42")
		require.NoError(t, err)
		assert.Equal(t, 1, r.PlayerCount())
	})

	t.Run("host close destroys the room", func(t *testing.T) {
		reg := room.NewRegistry(zerolog.Nop())
		host, _ := newTestSession(t, reg)
		deliver(t, host, createRoomEnv(t, "42", "Hanna", "", 4))

		guest, guestConn := newTestSession(t, reg)
		deliver(t, guest, joinRoomEnv(t, "42", "Ada"))

		host.Close()

		assert.NotNil(t, guestConn.last(protocol.TypeRoomDestroyed))
		assert.Zero(t, reg.Len())
	})

	t.Run("close is idempotent", func(t *testing.T) {
		reg := room.NewRegistry(zerolog.Nop())
		s, conn := newTestSession(t, reg)
		s.Close()
		s.Close()
		assert.True(t, conn.isClosed())
	})
}

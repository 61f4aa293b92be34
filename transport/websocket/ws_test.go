package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edungeon/quizrace/game/client"
	"github.com/edungeon/quizrace/game/protocol"
	"github.com/edungeon/quizrace/game/room"
	"github.com/edungeon/quizrace/transport/throttle"
)

type allowAll struct{}

func (allowAll) Verify(context.Context, string) bool { return true }

func startServer(t *testing.T, guard *throttle.IPGuard) (string, *room.Registry) {
	t.Helper()

	reg := room.NewRegistry(zerolog.Nop())
	factory := func(conn client.Conn) *client.Session {
		return client.NewSession(conn, reg, allowAll{}, 0, zerolog.Nop())
	}

	srv := httptest.NewServer(NewHandler(guard, factory, zerolog.Nop()))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), reg
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendEnvelope(t *testing.T, ws *websocket.Conn, env *protocol.Envelope) {
	t.Helper()
	data, err := protocol.Encode(env)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func readEnvelope(t *testing.T, ws *websocket.Conn) *protocol.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	return env
}

func TestHandlerRoundTrip(t *testing.T) {
	url, reg := startServer(t, throttle.NewIPGuard(0))
	ws := dialWS(t, url)

	t.Run("ping pong", func(t *testing.T) {
		sendEnvelope(t, ws, &protocol.Envelope{Type: protocol.TypePing, Payload: "9"})
		pong := readEnvelope(t, ws)
		assert.Equal(t, protocol.TypePong, pong.Type)
		assert.Equal(t, "9", pong.Payload)
	})

	t.Run("create room over websocket", func(t *testing.T) {
		payload, err := protocol.MarshalPayload(protocol.Handshake{
			PlayerName: "Hanna",
			RoomID:     "42",
			MaxPlayers: 4,
		})
		require.NoError(t, err)

		sendEnvelope(t, ws, &protocol.Envelope{Type: protocol.TypeCreateRoom, Payload: payload})
		ack := readEnvelope(t, ws)
		assert.Equal(t, protocol.TypeRoomCreated, ack.Type)
		assert.Equal(t, 1, reg.Len())
	})
}

func TestHandlerTwoClientsShareRoom(t *testing.T) {
	url, _ := startServer(t, throttle.NewIPGuard(0))

	host := dialWS(t, url)
	payload, err := protocol.MarshalPayload(protocol.Handshake{PlayerName: "Hanna", RoomID: "42", MaxPlayers: 4})
	require.NoError(t, err)
	sendEnvelope(t, host, &protocol.Envelope{Type: protocol.TypeCreateRoom, Payload: payload})
	readEnvelope(t, host) // ROOM_CREATED
	readEnvelope(t, host) // SYNC_PLAYERS

	guest := dialWS(t, url)
	joinPayload, err := protocol.MarshalPayload(protocol.Handshake{PlayerName: "Ada", RoomID: "42"})
	require.NoError(t, err)
	sendEnvelope(t, guest, &protocol.Envelope{Type: protocol.TypeJoinRoom, Payload: joinPayload})

	ack := readEnvelope(t, guest)
	assert.Equal(t, protocol.TypeJoinSuccess, ack.Type)

	joined := readEnvelope(t, host)
	assert.Equal(t, protocol.TypePlayerJoined, joined.Type)
}

func TestHandlerPerIPCeiling(t *testing.T) {
	url, _ := startServer(t, throttle.NewIPGuard(1))

	ws := dialWS(t, url)
	sendEnvelope(t, ws, &protocol.Envelope{Type: protocol.TypePing, Payload: "1"})
	readEnvelope(t, ws) // connection is live and holds the only slot

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Slot frees after disconnect.
	ws.Close()
	require.Eventually(t, func() bool {
		retry, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return false
		}
		retry.Close()
		return true
	}, 2*time.Second, 50*time.Millisecond)
}

func TestHandlerRateLimitDisconnects(t *testing.T) {
	reg := room.NewRegistry(zerolog.Nop())
	factory := func(conn client.Conn) *client.Session {
		return client.NewSession(conn, reg, allowAll{}, 5, zerolog.Nop())
	}
	srv := httptest.NewServer(NewHandler(throttle.NewIPGuard(0), factory, zerolog.Nop()))
	defer srv.Close()

	ws := dialWS(t, "ws"+strings.TrimPrefix(srv.URL, "http"))

	data, err := protocol.Encode(&protocol.Envelope{Type: protocol.TypePing})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	sawClose := false
	for i := 0; i < 20; i++ {
		if _, _, err := ws.ReadMessage(); err != nil {
			sawClose = true
			break
		}
	}
	assert.True(t, sawClose, "connection must be torn down after exceeding the rate ceiling")
}

func TestHandlerMalformedMessageKeepsConnection(t *testing.T) {
	url, _ := startServer(t, throttle.NewIPGuard(0))
	ws := dialWS(t, url)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{{{garbage")))

	sendEnvelope(t, ws, &protocol.Envelope{Type: protocol.TypePing, Payload: "1"})
	pong := readEnvelope(t, ws)
	assert.Equal(t, protocol.TypePong, pong.Type)
}

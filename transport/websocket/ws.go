package websocket

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/edungeon/quizrace/game/client"
	"github.com/edungeon/quizrace/game/protocol"
	"github.com/edungeon/quizrace/metrics"
	"github.com/edungeon/quizrace/transport/throttle"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Matches the raw-stream
	// frame ceiling so the question-set handshake fits either way.
	maxMessageSize = protocol.MaxFrameSize

	// Outbound buffer per connection; a peer that falls this far behind
	// is dropped rather than allowed to stall broadcasts.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The game client is not browser-hosted; origin checks add nothing.
		return true
	},
}

var errSendBufferFull = errors.New("websocket send buffer full")

// SessionFactory builds the session for an upgraded connection.
type SessionFactory func(conn client.Conn) *client.Session

// Handler upgrades HTTP requests to WebSocket connections and runs the
// same session layer as the raw socket transport.
type Handler struct {
	guard      *throttle.IPGuard
	newSession SessionFactory
	logger     zerolog.Logger
}

// NewHandler creates the upgrade handler.
func NewHandler(guard *throttle.IPGuard, newSession SessionFactory, logger zerolog.Logger) *Handler {
	return &Handler{
		guard:      guard,
		newSession: newSession,
		logger:     logger.With().Str("component", "websocket").Logger(),
	}
}

// ServeHTTP upgrades the connection and services its read loop until the
// peer disconnects, the rate ceiling trips, or the server shuts down.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := requestIP(r)
	if !h.guard.Acquire(ip) {
		metrics.ConnectionsRejected.WithLabelValues("ip_limit").Inc()
		h.logger.Warn().Str("ip", ip).Msg("connection ceiling reached for address, rejecting")
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}
	defer h.guard.Release(ip)

	wsc, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	metrics.ConnectionsActive.WithLabelValues("websocket").Inc()
	defer metrics.ConnectionsActive.WithLabelValues("websocket").Dec()

	c := &conn{
		ws:   wsc,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	sess := h.newSession(c)
	go c.writePump()

	c.readLoop(sess, h.logger)
	sess.Close()
	c.Close()
}

// conn adapts a gorilla connection to the session layer with a buffered
// send channel drained by a single write pump.
type conn struct {
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// Send queues an envelope, best effort. A full buffer means the peer is
// too slow to keep up; the connection is closed rather than letting one
// receiver stall a broadcast.
func (c *conn) Send(env *protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return net.ErrClosed
	default:
		_ = c.Close()
		return errSendBufferFull
	}
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
	return nil
}

func (c *conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// readLoop pumps inbound messages into the session. ReadMessage
// accumulates fragments until the terminal frame of a logical message, so
// the session always sees one complete envelope per call.
func (c *conn) readLoop(sess *client.Session, logger zerolog.Logger) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		if err := sess.HandleMessage(data); err != nil {
			return
		}
	}
}

// writePump drains the send buffer onto the wire and keeps the peer alive
// with periodic pings.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}

func requestIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

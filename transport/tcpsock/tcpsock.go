package tcpsock

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edungeon/quizrace/game/client"
	"github.com/edungeon/quizrace/game/protocol"
	"github.com/edungeon/quizrace/metrics"
	"github.com/edungeon/quizrace/transport/throttle"
)

// writeWait bounds a single frame write, mirroring the websocket write
// deadline. A peer that stopped draining its socket must error out here
// instead of stalling broadcasts to its room.
var writeWait = 10 * time.Second

// SessionFactory builds the session for an accepted connection. It is
// injected so the listener carries no knowledge of registries or
// verification.
type SessionFactory func(conn client.Conn) *client.Session

// Listener accepts raw persistent-socket clients, applies the per-address
// connection throttle, and runs one read loop per connection.
type Listener struct {
	addr       string
	guard      *throttle.IPGuard
	newSession SessionFactory
	logger     zerolog.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewListener creates a listener for addr.
func NewListener(addr string, guard *throttle.IPGuard, newSession SessionFactory, logger zerolog.Logger) *Listener {
	return &Listener{
		addr:       addr,
		guard:      guard,
		newSession: newSession,
		logger:     logger.With().Str("component", "tcp").Logger(),
	}
}

// ListenAndServe binds the address and accepts until Shutdown. It returns
// nil after a clean shutdown.
func (l *Listener) ListenAndServe() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	l.logger.Info().Str("addr", ln.Addr().String()).Msg("tcp listener started")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				l.wg.Wait()
				return nil
			}
			l.logger.Warn().Err(err).Msg("accept failed")
			continue
		}

		ip := remoteIP(conn)
		if !l.guard.Acquire(ip) {
			metrics.ConnectionsRejected.WithLabelValues("ip_limit").Inc()
			l.logger.Warn().Str("ip", ip).Msg("connection ceiling reached for address, rejecting")
			_ = conn.Close()
			continue
		}

		l.wg.Add(1)
		go l.handle(conn, ip)
	}
}

// Addr returns the bound address, useful when listening on port 0.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Shutdown stops accepting; in-flight connections drain through their own
// read loops.
func (l *Listener) Shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		_ = l.ln.Close()
	}
}

func (l *Listener) handle(nc net.Conn, ip string) {
	defer l.wg.Done()
	defer l.guard.Release(ip)

	metrics.ConnectionsActive.WithLabelValues("tcp").Inc()
	defer metrics.ConnectionsActive.WithLabelValues("tcp").Dec()

	c := &conn{nc: nc}
	sess := l.newSession(c)
	defer sess.Close()

	for {
		frame, err := protocol.ReadFrame(nc)
		if err != nil {
			l.logger.Debug().Err(err).Str("ip", ip).Msg("read loop ended")
			return
		}
		if err := sess.HandleMessage(frame); err != nil {
			return
		}
	}
}

// conn adapts a net.Conn to the session layer. Writes hold a per-connection
// lock so concurrent broadcasters never interleave frames, and carry a
// deadline so a stalled peer degrades only its own connection.
type conn struct {
	nc  net.Conn
	wmu sync.Mutex
}

func (c *conn) Send(env *protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	_ = c.nc.SetWriteDeadline(time.Now().Add(writeWait))
	if err := protocol.WriteFrame(c.nc, data); err != nil {
		// The write side is wedged or gone; closing ends the read loop,
		// which unwinds the session like any other disconnect.
		_ = c.nc.Close()
		return err
	}
	return nil
}

func (c *conn) Close() error {
	return c.nc.Close()
}

func (c *conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

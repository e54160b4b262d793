package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	appconfig "marketfeed/config"
	"marketfeed/logger"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultKeepAlive      = 30 * time.Second
	defaultReadLimit      = 1 << 20
	controlWriteTimeout   = time.Second
)

// ErrReconnectExhausted is returned by Run once the reconnect cap is reached.
var ErrReconnectExhausted = errors.New("binance stream: max reconnect attempts reached")

// State is a position in the connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateErrored
	StateReconnecting
	StateClosing
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "errored"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Dialer opens the websocket; *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// FrameHandler is called once per inbound frame, in arrival order, from the
// read goroutine only.
type FrameHandler func(ctx context.Context, frame []byte)

// Stream owns the combined-stream connection: it dials, keeps the link alive
// with pings, hands frames to the handler and reconnects after a fixed delay
// until the attempt cap is hit.
type Stream struct {
	url            string
	dialer         Dialer
	handler        FrameHandler
	heartbeat      time.Duration
	reconnectDelay time.Duration
	maxAttempts    int
	log            *logger.Log

	state    atomic.Int32
	attempts atomic.Int32
	dials    atomic.Int64

	connMu sync.Mutex
	conn   *websocket.Conn
}

func NewStream(cfg appconfig.StreamConfig, handler FrameHandler) *Stream {
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultKeepAlive
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	return &Stream{
		url:            cfg.StreamEndpoint(),
		dialer:         dialer,
		handler:        handler,
		heartbeat:      heartbeat,
		reconnectDelay: delay,
		maxAttempts:    cfg.MaxReconnectAttempts,
		log:            logger.GetLogger(),
	}
}

// WithDialer replaces the default gorilla dialer.
func (s *Stream) WithDialer(d Dialer) *Stream {
	s.dialer = d
	return s
}

// WithURL overrides the endpoint derived from the stream config.
func (s *Stream) WithURL(url string) *Stream {
	s.url = url
	return s
}

func (s *Stream) URL() string { return s.url }

func (s *Stream) State() State { return State(s.state.Load()) }

// Connected reports whether a handshake has completed and the read loop is live.
func (s *Stream) Connected() bool { return s.State() == StateConnected }

// Attempts is the current consecutive reconnect attempt count.
func (s *Stream) Attempts() int { return int(s.attempts.Load()) }

// Dials is the total number of connection attempts made so far.
func (s *Stream) Dials() int64 { return s.dials.Load() }

// Run drives the connection until ctx is cancelled (returns nil) or the
// reconnect cap is reached (returns ErrReconnectExhausted).
func (s *Stream) Run(ctx context.Context) error {
	log := s.log.WithComponent("stream").WithField("url", s.url)

	for {
		if ctx.Err() != nil {
			s.shutdown(log)
			return nil
		}

		s.setState(StateConnecting, log)
		session := log.WithFields(logger.Fields{
			"session": uuid.NewString(),
			"attempt": s.Attempts(),
		})

		s.dials.Add(1)
		conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				s.shutdown(log)
				return nil
			}
			entry := session.WithError(err)
			if resp != nil {
				entry = entry.WithField("status", resp.StatusCode)
			}
			entry.Warn("failed to connect to binance websocket")
		} else {
			s.attempts.Store(0)
			s.serve(ctx, conn, session)
			if ctx.Err() != nil {
				s.shutdown(log)
				return nil
			}
		}

		s.setState(StateReconnecting, log)
		if int(s.attempts.Load()) >= s.maxAttempts {
			s.setState(StateExhausted, log)
			log.WithField("max_attempts", s.maxAttempts).Error("max reconnection attempts reached")
			return ErrReconnectExhausted
		}
		attempt := s.attempts.Add(1)
		log.WithFields(logger.Fields{
			"delay":        s.reconnectDelay.String(),
			"attempt":      attempt,
			"max_attempts": s.maxAttempts,
		}).Info("reconnecting")

		if waitForReconnect(ctx, s.reconnectDelay) {
			s.shutdown(log)
			return nil
		}
	}
}

// Close shuts the current connection, if any. Run notices and reconnects
// unless its context is also done.
func (s *Stream) Close() {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn != nil {
		closeGracefully(conn)
	}
}

func (s *Stream) serve(ctx context.Context, conn *websocket.Conn, log *logger.Entry) {
	conn.SetReadLimit(defaultReadLimit)
	s.setConn(conn)
	defer s.setConn(nil)
	defer conn.Close()

	s.setState(StateConnected, log)
	log.Info("websocket connected")

	stopWatch := context.AfterFunc(ctx, func() { closeGracefully(conn) })
	defer stopWatch()

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go s.heartbeatLoop(pingCtx, conn, log)

	err := readMessages(ctx, conn, s.handler)
	switch {
	case ctx.Err() != nil:
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		log.WithError(err).Info("websocket closed by server")
	case err != nil:
		s.setState(StateErrored, log)
		log.WithError(err).Warn("websocket read loop ended")
	}
}

func (s *Stream) heartbeatLoop(ctx context.Context, conn *websocket.Conn, log *logger.Entry) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.Connected() {
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWriteTimeout)); err != nil {
				log.WithError(err).Warn("failed to send websocket ping")
				return
			}
		}
	}
}

func (s *Stream) shutdown(log *logger.Entry) {
	s.setState(StateClosing, log)
	s.Close()
	s.setState(StateDisconnected, log)
}

func (s *Stream) setConn(conn *websocket.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

func (s *Stream) setState(next State, log *logger.Entry) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next {
		log.WithFields(logger.Fields{"from": prev.String(), "to": next.String()}).Debug("stream state")
	}
}

func readMessages(ctx context.Context, conn *websocket.Conn, handler FrameHandler) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if handler != nil {
			handler(ctx, msg)
		}
	}
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

func closeGracefully(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWriteTimeout))
	_ = conn.Close()
}

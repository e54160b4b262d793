package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	appconfig "marketfeed/config"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func testConfig(maxAttempts int) appconfig.StreamConfig {
	return appconfig.StreamConfig{
		URL:                  "ws://127.0.0.1:1",
		Symbol:               "btcusdt",
		DepthLevels:          20,
		HeartbeatInterval:    time.Hour,
		ReconnectDelay:       time.Millisecond,
		MaxReconnectAttempts: maxAttempts,
		HandshakeTimeout:     time.Second,
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type recorder struct {
	mu     sync.Mutex
	frames []string
	notify chan struct{}
}

func newRecorder() *recorder { return &recorder{notify: make(chan struct{}, 64)} }

func (r *recorder) handle(_ context.Context, frame []byte) {
	r.mu.Lock()
	r.frames = append(r.frames, string(frame))
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

type failingDialer struct{ calls atomic.Int64 }

func (d *failingDialer) DialContext(context.Context, string, http.Header) (*websocket.Conn, *http.Response, error) {
	d.calls.Add(1)
	return nil, nil, errors.New("connection refused")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamEndpoint(t *testing.T) {
	s := NewStream(testConfig(3), nil)
	want := "ws://127.0.0.1:1/stream?streams=btcusdt@ticker/btcusdt@depth20@100ms/btcusdt@trade/btcusdt@kline_1m"
	if s.URL() != want {
		t.Fatalf("url = %q, want %q", s.URL(), want)
	}
}

func TestStreamDeliversFramesInOrder(t *testing.T) {
	frames := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	s := NewStream(testConfig(3), rec.handle).WithURL(wsURL(srv))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, "three frames", func() bool { return len(rec.snapshot()) == 3 })
	if !s.Connected() {
		t.Fatalf("state = %s, want connected", s.State())
	}
	got := rec.snapshot()
	for i := range frames {
		if got[i] != frames[i] {
			t.Fatalf("frame %d = %s, want %s", i, got[i], frames[i])
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v after cancel, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly after cancel")
	}
	if s.State() != StateDisconnected {
		t.Fatalf("state after cancel = %s, want disconnected", s.State())
	}
}

func TestStreamExhaustsReconnectAttempts(t *testing.T) {
	dialer := &failingDialer{}
	s := NewStream(testConfig(3), nil).WithDialer(dialer)

	err := s.Run(context.Background())
	if !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("err = %v, want ErrReconnectExhausted", err)
	}
	if got := dialer.calls.Load(); got != 4 {
		t.Fatalf("dials = %d, want 4 (initial + 3 retries)", got)
	}
	if s.Dials() != 4 {
		t.Fatalf("Dials() = %d, want 4", s.Dials())
	}
	if s.State() != StateExhausted {
		t.Fatalf("state = %s, want exhausted", s.State())
	}

	time.Sleep(20 * time.Millisecond)
	if got := dialer.calls.Load(); got != 4 {
		t.Fatalf("dialed again after exhaustion: %d", got)
	}
}

func TestStreamZeroAttemptsStopsAfterFirstFailure(t *testing.T) {
	dialer := &failingDialer{}
	s := NewStream(testConfig(0), nil).WithDialer(dialer)

	if err := s.Run(context.Background()); !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("err = %v, want ErrReconnectExhausted", err)
	}
	if got := dialer.calls.Load(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
}

func TestStreamSuccessfulConnectResetsAttempts(t *testing.T) {
	var accepted atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted.Add(1)
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}))
	defer srv.Close()

	s := NewStream(testConfig(2), nil).WithURL(wsURL(srv))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// more sessions than the cap allows means the counter went back to zero
	waitFor(t, "repeated sessions", func() bool { return accepted.Load() >= 6 })
	if s.Attempts() > 1 {
		t.Fatalf("attempts = %d, want at most 1 after a successful session", s.Attempts())
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStreamCancelDuringBackoff(t *testing.T) {
	cfg := testConfig(5)
	cfg.ReconnectDelay = time.Hour
	dialer := &failingDialer{}
	s := NewStream(cfg, nil).WithDialer(dialer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, "reconnecting state", func() bool { return dialer.calls.Load() == 1 && s.Attempts() == 1 })
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("backoff wait ignored cancellation")
	}
}

func TestStreamSendsHeartbeatPings(t *testing.T) {
	var pings atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetPingHandler(func(data string) error {
			pings.Add(1)
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := testConfig(1)
	cfg.HeartbeatInterval = 10 * time.Millisecond
	s := NewStream(cfg, nil).WithURL(wsURL(srv))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, "two pings", func() bool { return pings.Load() >= 2 })
	cancel()
	<-done
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateErrored:      "errored",
		StateReconnecting: "reconnecting",
		StateClosing:      "closing",
		StateExhausted:    "exhausted",
		State(42):         "state(42)",
	}
	for st, want := range cases {
		if st.String() != want {
			t.Fatalf("%d.String() = %q, want %q", int32(st), st.String(), want)
		}
	}
}

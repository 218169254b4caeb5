package channel

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/raphaelgruber/sqlchat-go/internal/metrics"
	"github.com/raphaelgruber/sqlchat-go/internal/models"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

// clearableToken is a token source that can be cleared mid-test.
type clearableToken struct {
	mu  sync.Mutex
	tok string
}

func (c *clearableToken) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tok
}

func (c *clearableToken) clear() {
	c.mu.Lock()
	c.tok = ""
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// holdOpen reads until the client goes away.
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func fastBackoff(int) time.Duration { return time.Millisecond }

func TestBackoff(t *testing.T) {
	tests := []struct {
		retries int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
		{-1, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.retries), "retries=%d", tt.retries)
	}
}

func TestDeliversEventsAndDropsMalformed(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		mu                sync.Mutex
		gotToken, gotPath string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		gotToken = r.URL.Query().Get("token")
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connection_established","project_id":"p1","user_id":3}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"po_status_update","project_id":"other","po_number":"PO-9","status":"approved"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"po_status_update","project_id":"p1","po_number":"PO-1","status":"approved"}`))
		holdOpen(conn)
	}))
	defer srv.Close()

	m := metrics.NewCollector()
	ch := New(wsURL(srv), Options{Tokens: staticToken("tok"), Logger: discardLogger(), Metrics: m})
	defer ch.Close()

	events := make(chan models.Event, 10)
	ch.OnEvent(func(ev models.Event) { events <- ev })

	ch.Select("p1")

	first := <-events
	assert.Equal(t, models.EventConnectionEstablished, first.Type())
	second := <-events
	update, ok := second.(models.POStatusUpdate)
	require.True(t, ok)
	assert.Equal(t, "PO-1", update.PONumber)

	assert.Equal(t, Connected, ch.State())
	mu.Lock()
	assert.Equal(t, "/ws/p1", gotPath)
	assert.Equal(t, "tok", gotToken)
	mu.Unlock()
	assert.Equal(t, int64(2), m.Counter(metrics.CounterEventsDropped))
	assert.Equal(t, int64(2), m.Counter(metrics.CounterEventsReceived))
}

func TestReconnectAttemptsBounded(t *testing.T) {
	defer goleak.VerifyNone(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ch := New(wsURL(srv), Options{Tokens: staticToken("tok"), Logger: discardLogger(), Backoff: fastBackoff})
	defer ch.Close()

	reasons := make(chan error, 1)
	ch.OnGiveUp(func(err error) { reasons <- err })
	ch.Select("p1")

	require.Eventually(t, ch.GaveUp, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1+MaxRetries, ch.Attempts())
	assert.ErrorIs(t, <-reasons, ErrRetriesExhausted)
	assert.Equal(t, int32(1+MaxRetries), hits.Load())
	assert.Equal(t, Disconnected, ch.State())

	// No further attempts after giving up.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1+MaxRetries), hits.Load())
}

func TestReconnectsAfterDrop(t *testing.T) {
	defer goleak.VerifyNone(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if n == 1 {
			return // drop the first connection immediately
		}
		holdOpen(conn)
	}))
	defer srv.Close()

	m := metrics.NewCollector()
	ch := New(wsURL(srv), Options{Tokens: staticToken("tok"), Logger: discardLogger(), Metrics: m, Backoff: fastBackoff})
	defer ch.Close()

	ch.Select("p1")

	require.Eventually(t, func() bool { return hits.Load() == 2 && ch.State() == Connected }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, ch.GaveUp())
	assert.Equal(t, int64(1), m.Counter(metrics.CounterReconnects))
}

func TestAuthCloseStopsReconnecting(t *testing.T) {
	defer goleak.VerifyNone(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msg := websocket.FormatCloseMessage(CloseAuthFailed, "Invalid token")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		holdOpen(conn)
	}))
	defer srv.Close()

	var unauthorized atomic.Int32
	ch := New(wsURL(srv), Options{
		Tokens:         staticToken("expired"),
		Logger:         discardLogger(),
		Backoff:        fastBackoff,
		OnUnauthorized: func() { unauthorized.Add(1) },
	})
	defer ch.Close()

	ch.Select("p1")

	require.Eventually(t, ch.GaveUp, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), unauthorized.Load())
	assert.Equal(t, int32(1), hits.Load())
}

func TestNoTokenDoesNotDial(t *testing.T) {
	defer goleak.VerifyNone(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	ch := New(wsURL(srv), Options{Tokens: staticToken(""), Logger: discardLogger()})
	defer ch.Close()

	ch.Select("p1")
	require.Eventually(t, ch.GaveUp, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), hits.Load())
}

func TestTokenClearedBetweenReconnectsGivesUp(t *testing.T) {
	defer goleak.VerifyNone(t)

	tokens := &clearableToken{tok: "tok"}
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		tokens.clear()
		_ = conn.Close()
	}))
	defer srv.Close()

	var unauthorized atomic.Int32
	ch := New(wsURL(srv), Options{
		Tokens:         tokens,
		Logger:         discardLogger(),
		Backoff:        fastBackoff,
		OnUnauthorized: func() { unauthorized.Add(1) },
	})
	defer ch.Close()

	reasons := make(chan error, 2)
	ch.OnGiveUp(func(err error) { reasons <- err })

	ch.Select("p1")

	select {
	case err := <-reasons:
		assert.ErrorIs(t, err, ErrAuthFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("give-up was not reported")
	}
	assert.True(t, ch.GaveUp())
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int32(1), unauthorized.Load())
}

func TestSelectSwitchesProject(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		mu     sync.Mutex
		open   = map[string]int{}
		closed = map[string]int{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		project := strings.TrimPrefix(r.URL.Path, "/ws/")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mu.Lock()
		open[project]++
		mu.Unlock()
		holdOpen(conn)
		mu.Lock()
		closed[project]++
		mu.Unlock()
	}))
	defer srv.Close()

	ch := New(wsURL(srv), Options{Tokens: staticToken("tok"), Logger: discardLogger()})
	defer ch.Close()

	var states []State
	var statesMu sync.Mutex
	ch.OnStateChange(func(s State) {
		statesMu.Lock()
		states = append(states, s)
		statesMu.Unlock()
	})

	ch.Select("a")
	require.Eventually(t, func() bool { return ch.State() == Connected }, 2*time.Second, 5*time.Millisecond)

	ch.Select("b")
	assert.Equal(t, "b", ch.ProjectID())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return closed["a"] == 1 && open["b"] == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return ch.State() == Connected }, 2*time.Second, 5*time.Millisecond)

	ch.Select("")
	assert.Equal(t, Disconnected, ch.State())
	assert.Equal(t, "", ch.ProjectID())

	statesMu.Lock()
	defer statesMu.Unlock()
	assert.Equal(t, []State{Connecting, Connected, Disconnected, Connecting, Connected, Disconnected}, states)
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := New(wsURL(srv), Options{
		Tokens:  staticToken("tok"),
		Logger:  discardLogger(),
		Backoff: func(int) time.Duration { return time.Hour },
	})

	ch.Select("p1")
	require.Eventually(t, func() bool { return ch.Attempts() == 1 && ch.State() == Disconnected }, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		ch.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not cancel the pending reconnect")
	}
	ch.Close()
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	out := truncate(strings.Repeat("ü", 20), 10)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, strings.Repeat("ü", 7)+"...", out)
}

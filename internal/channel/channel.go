// Package channel maintains the per-project WebSocket that pushes workflow
// and purchase order events.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/sqlchat-go/internal/metrics"
	"github.com/raphaelgruber/sqlchat-go/internal/models"
)

// State is the connection state of a Channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	// MaxRetries is the number of reconnect attempts after which the channel
	// stays disconnected until the next Select.
	MaxRetries = 5

	baseDelay = time.Second
	maxDelay  = 30 * time.Second

	// CloseAuthFailed is the close code the server sends for a missing or
	// invalid token.
	CloseAuthFailed = 4001
)

// Reasons passed to OnGiveUp listeners.
var (
	ErrAuthFailed       = errors.New("websocket authentication failed")
	ErrRetriesExhausted = errors.New("websocket reconnect attempts exhausted")
)

// Backoff returns the delay before reconnect attempt number retries (0-based):
// 1s doubling per attempt, capped at 30s.
func Backoff(retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}
	if retries >= 5 {
		return maxDelay
	}
	d := baseDelay << retries
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// TokenSource supplies the bearer token passed as the token query parameter.
type TokenSource interface {
	Token() string
}

// Options configures a Channel.
type Options struct {
	Tokens  TokenSource
	Logger  *slog.Logger
	Metrics *metrics.Collector

	// Backoff overrides the reconnect delay schedule.
	Backoff func(retries int) time.Duration

	// OnUnauthorized runs when the server rejects the token. Reconnecting
	// stops until the next Select.
	OnUnauthorized func()

	HandshakeTimeout time.Duration
}

// Channel holds at most one WebSocket connection, for the selected project.
// All methods are safe for concurrent use.
type Channel struct {
	baseURL string
	opts    Options
	logger  *slog.Logger
	dialer  websocket.Dialer

	// selectMu serializes Select and Close so teardown completes before a
	// new connection loop starts.
	selectMu sync.Mutex

	mu        sync.Mutex
	projectID string
	state     State
	retries   int
	attempts  int
	gaveUp    bool
	conn      *websocket.Conn
	cancel    context.CancelFunc
	eventFns  []func(models.Event)
	stateFns  []func(State)
	giveUpFns []func(error)

	wg sync.WaitGroup
}

// New creates a channel for the WebSocket base URL (ws:// or wss://).
func New(baseURL string, opts Options) *Channel {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Backoff == nil {
		opts.Backoff = Backoff
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return &Channel{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		logger:  opts.Logger.With("component", "channel"),
		dialer:  websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
	}
}

// OnEvent registers a listener for decoded events. Listeners run on the
// reader goroutine and must not block.
func (c *Channel) OnEvent(fn func(models.Event)) {
	c.mu.Lock()
	c.eventFns = append(c.eventFns, fn)
	c.mu.Unlock()
}

// OnStateChange registers a listener for connection state transitions.
func (c *Channel) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.stateFns = append(c.stateFns, fn)
	c.mu.Unlock()
}

// OnGiveUp registers a listener that runs once per selection when
// reconnecting stops, with ErrAuthFailed or ErrRetriesExhausted.
func (c *Channel) OnGiveUp(fn func(error)) {
	c.mu.Lock()
	c.giveUpFns = append(c.giveUpFns, fn)
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ProjectID returns the selected project, or "" when none is selected.
func (c *Channel) ProjectID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectID
}

// GaveUp reports whether reconnecting stopped for the current selection,
// either after MaxRetries failed attempts or after an authentication failure.
func (c *Channel) GaveUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gaveUp
}

// Attempts returns the number of connection attempts for the current
// selection, including the first.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Select closes any existing connection and pending reconnect, then connects
// to projectID. An empty projectID only closes.
func (c *Channel) Select(projectID string) {
	c.selectMu.Lock()
	defer c.selectMu.Unlock()

	c.stop()
	if projectID == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.projectID = projectID
	c.retries = 0
	c.attempts = 0
	c.gaveUp = false
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx, projectID)
}

// Close closes the connection and cancels any pending reconnect. It blocks
// until the connection goroutine has exited.
func (c *Channel) Close() {
	c.selectMu.Lock()
	defer c.selectMu.Unlock()
	c.stop()
}

// stop tears down the current selection and waits for its goroutine.
func (c *Channel) stop() {
	c.mu.Lock()
	c.projectID = ""
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
}

// run owns the connection lifecycle for one selection: connect, read until
// the connection drops, then wait out the backoff and try again.
func (c *Channel) run(ctx context.Context, projectID string) {
	defer c.wg.Done()
	defer c.setState(Disconnected)

	for {
		err := c.connectAndRead(ctx, projectID)
		if ctx.Err() != nil {
			return
		}

		if errors.Is(err, ErrAuthFailed) {
			c.logger.Warn("websocket authentication rejected", "project_id", projectID)
			if c.opts.OnUnauthorized != nil {
				c.opts.OnUnauthorized()
			}
			c.giveUp(ErrAuthFailed)
			return
		}

		c.mu.Lock()
		if c.retries >= MaxRetries {
			c.mu.Unlock()
			c.logger.Warn("websocket reconnect attempts exhausted", "project_id", projectID, "attempts", MaxRetries)
			c.giveUp(ErrRetriesExhausted)
			return
		}
		delay := c.opts.Backoff(c.retries)
		c.retries++
		retry := c.retries
		c.mu.Unlock()

		c.setState(Disconnected)
		c.opts.Metrics.Incr(metrics.CounterReconnects)
		c.logger.Info("websocket disconnected, reconnecting",
			"project_id", projectID, "retry", retry, "delay_ms", delay.Milliseconds(), "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// giveUp marks the selection as given up and notifies listeners, also when
// the state is already Disconnected.
func (c *Channel) giveUp(reason error) {
	c.mu.Lock()
	c.gaveUp = true
	fns := append([]func(error){}, c.giveUpFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(reason)
	}
}

func (c *Channel) connectAndRead(ctx context.Context, projectID string) error {
	token := ""
	if c.opts.Tokens != nil {
		token = c.opts.Tokens.Token()
	}
	if token == "" {
		return ErrAuthFailed
	}

	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()
	c.setState(Connecting)

	start := time.Now()
	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint(projectID, token), nil)
	c.opts.Metrics.RecordTiming(metrics.OpWSConnect, time.Since(start), err)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: handshake status %d", ErrAuthFailed, resp.StatusCode)
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return ctx.Err()
	}
	c.conn = conn
	c.retries = 0
	c.mu.Unlock()

	c.setState(Connected)
	c.logger.Info("websocket connected", "project_id", projectID)

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, CloseAuthFailed) {
				return fmt.Errorf("%w: %v", ErrAuthFailed, err)
			}
			return fmt.Errorf("read message: %w", err)
		}
		c.handleMessage(projectID, data)
	}
}

func (c *Channel) handleMessage(projectID string, data []byte) {
	ev, err := models.DecodeEvent(data)
	if err != nil {
		c.opts.Metrics.Incr(metrics.CounterEventsDropped)
		c.logger.Warn("dropping unparseable websocket message", "error", err, "payload", truncate(string(data), 200))
		return
	}
	if p := ev.Project(); p != "" && p != projectID {
		c.opts.Metrics.Incr(metrics.CounterEventsDropped)
		c.logger.Debug("dropping event for another project", "project_id", p, "type", ev.Type())
		return
	}
	c.opts.Metrics.Incr(metrics.CounterEventsReceived)

	c.mu.Lock()
	fns := append([]func(models.Event){}, c.eventFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	fns := append([]func(State){}, c.stateFns...)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (c *Channel) endpoint(projectID, token string) string {
	return c.baseURL + "/ws/" + url.PathEscape(projectID) + "?" + url.Values{"token": {token}}.Encode()
}

// truncate shortens s to maxLen runes, cutting on a rune boundary.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	n := 0
	for i := range s {
		if n == maxLen-3 {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

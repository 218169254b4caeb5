// Package poller runs periodic status fetches for the selected project. It is
// the fallback for updates the WebSocket channel may have missed.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FetchFunc fetches and applies one status update for projectID. Returning
// done stops the loop. It must not call Start or Stop on its own poller.
type FetchFunc func(ctx context.Context, projectID string) (done bool, err error)

// Poller runs FetchFunc for one project at a time: immediately on Start, then
// every Interval. At most one loop runs at any moment.
type Poller struct {
	name     string
	interval time.Duration
	fetch    FetchFunc
	logger   *slog.Logger

	// startMu serializes Start and Stop.
	startMu sync.Mutex

	mu        sync.Mutex
	projectID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a poller. name identifies it in logs.
func New(name string, interval time.Duration, fetch FetchFunc, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		name:     name,
		interval: interval,
		fetch:    fetch,
		logger:   logger.With("poller", name),
	}
}

// Interval returns the polling interval.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Start stops any running loop, then starts polling projectID.
func (p *Poller) Start(projectID string) {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	p.stop()
	if projectID == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.projectID = projectID
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go p.run(ctx, projectID, done)
}

// Stop stops the loop and blocks until it has exited. Stopping an idle
// poller is a no-op.
func (p *Poller) Stop() {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	p.stop()
}

func (p *Poller) stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.projectID = ""
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether a loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runningLocked()
}

// ProjectID returns the project being polled, or "" when idle.
func (p *Poller) ProjectID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.runningLocked() {
		return ""
	}
	return p.projectID
}

func (p *Poller) runningLocked() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *Poller) run(ctx context.Context, projectID string, done chan struct{}) {
	defer close(done)

	p.logger.Debug("polling started", "project_id", projectID, "interval", p.interval)
	defer p.logger.Debug("polling stopped", "project_id", projectID)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if p.tick(ctx, projectID) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick runs one fetch and reports whether the loop should end.
func (p *Poller) tick(ctx context.Context, projectID string) bool {
	finished, err := p.fetch(ctx, projectID)
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		p.logger.Warn("poll failed", "project_id", projectID, "error", err)
	}
	return finished
}

package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchesImmediatelyAndPeriodically(t *testing.T) {
	var calls atomic.Int32
	p := New("test", 5*time.Millisecond, func(context.Context, string) (bool, error) {
		calls.Add(1)
		return false, nil
	}, quiet())

	p.Start("p1")
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	assert.True(t, p.Running())
	assert.Equal(t, "p1", p.ProjectID())

	p.Stop()
	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, calls.Load(), "no fetches after Stop")
	assert.False(t, p.Running())
	assert.Equal(t, "", p.ProjectID())
}

func TestStartReplacesRunningLoop(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
		seen     []string
	)
	fetch := func(ctx context.Context, projectID string) (bool, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		seen = append(seen, projectID)
		mu.Unlock()

		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Millisecond):
		}

		mu.Lock()
		inFlight--
		mu.Unlock()
		return false, nil
	}

	p := New("test", time.Millisecond, fetch, quiet())
	for _, id := range []string{"a", "b", "c", "a", "b"} {
		p.Start(id)
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	mark := len(seen)
	mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxSeen, "loops never overlap")
	for _, id := range seen[mark:] {
		assert.Equal(t, "b", id, "only the last selected project is polled")
	}
}

func TestDoneStopsLoop(t *testing.T) {
	var calls atomic.Int32
	p := New("test", time.Millisecond, func(context.Context, string) (bool, error) {
		return calls.Add(1) == 3, nil
	}, quiet())

	p.Start("p1")
	require.Eventually(t, func() bool { return !p.Running() }, time.Second, time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "", p.ProjectID())

	// A self-stopped poller can be restarted.
	calls.Store(0)
	p.Start("p1")
	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, time.Millisecond)
	p.Stop()
}

func TestErrorsKeepPolling(t *testing.T) {
	var calls atomic.Int32
	p := New("test", time.Millisecond, func(context.Context, string) (bool, error) {
		calls.Add(1)
		return false, errors.New("backend down")
	}, quiet())

	p.Start("p1")
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	assert.True(t, p.Running())
	p.Stop()
}

func TestStopIdempotent(t *testing.T) {
	p := New("test", time.Second, func(context.Context, string) (bool, error) { return false, nil }, quiet())
	p.Stop()
	p.Start("")
	assert.False(t, p.Running())
	p.Start("p1")
	p.Stop()
	p.Stop()
	assert.False(t, p.Running())
}

package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTiming(t *testing.T) {
	c := NewCollector()

	c.RecordTiming(OpChatQuery, 100*time.Millisecond, nil)
	c.RecordTiming(OpChatQuery, 300*time.Millisecond, errors.New("boom"))
	c.RecordTiming(OpREST, 10*time.Millisecond, nil)

	snap := c.Snapshot()
	require.Len(t, snap.Operations, 2)

	chat := snap.Operations[0]
	assert.Equal(t, OpChatQuery, chat.Name)
	assert.Equal(t, int64(2), chat.Count)
	assert.Equal(t, int64(1), chat.Failures)
	assert.Equal(t, int64(100), chat.MinTimeMs)
	assert.Equal(t, int64(300), chat.MaxTimeMs)
	assert.InDelta(t, 200.0, chat.AvgTimeMs, 0.01)

	assert.Equal(t, OpREST, snap.Operations[1].Name)
}

func TestCountersConcurrent(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Incr(CounterReconnects)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), c.Counter(CounterReconnects))
	assert.Equal(t, int64(50), c.Snapshot().Counters[CounterReconnects])
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.RecordTiming(OpREST, time.Second, nil)
	c.Incr(CounterEventsDropped)
	assert.Zero(t, c.Counter(CounterEventsDropped))
	assert.Empty(t, c.Snapshot().Operations)
}

package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueOrdering(t *testing.T) {
	q := New(10, 5, false, 0)

	require.NoError(t, q.Enqueue("low", "low-payload", intPtr(9)))
	require.NoError(t, q.Enqueue("high", "high-payload", intPtr(1)))
	require.NoError(t, q.Enqueue("mid", "mid-payload", intPtr(5)))

	first, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "high", first.RequestID)

	second, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "mid", second.RequestID)

	third, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "low", third.RequestID)
}

func TestEnqueueUsesDefaultPriorityWhenNil(t *testing.T) {
	q := New(10, 5, false, 0)
	require.NoError(t, q.Enqueue("a", nil, nil))
	item, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 5, item.OriginalPriority)
	assert.Equal(t, 5, item.EffectivePriority)
}

func TestEnqueueFIFOWithinSamePriority(t *testing.T) {
	q := New(10, 5, false, 0)
	require.NoError(t, q.Enqueue("first", nil, intPtr(3)))
	time.Sleep(time.Millisecond)
	require.NoError(t, q.Enqueue("second", nil, intPtr(3)))

	first, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "first", first.RequestID)

	second, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "second", second.RequestID)
}

func TestEnqueueRespectsMaxSize(t *testing.T) {
	q := New(2, 5, false, 0)
	require.NoError(t, q.Enqueue("a", nil, nil))
	require.NoError(t, q.Enqueue("b", nil, nil))
	err := q.Enqueue("c", nil, nil)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, q.Stats().Depth)
}

func TestStarvationPreventionBoostsWaitingItems(t *testing.T) {
	q := New(10, 5, true, 1) // aging_interval_sec = 1

	require.NoError(t, q.Enqueue("background", nil, intPtr(9)))

	// Backdate entry_time to simulate having waited 3 aging intervals.
	q.mu.Lock()
	q.heap[0].EntryTime = time.Now().Add(-3500 * time.Millisecond)
	q.mu.Unlock()

	require.NoError(t, q.Enqueue("fresh-standard", nil, intPtr(5)))

	item, err := q.Dequeue()
	require.NoError(t, err)
	// boost = floor(3.5) = 3, effective = max(0, 9-3) = 6, still behind 5.
	assert.Equal(t, "fresh-standard", item.RequestID)

	item2, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "background", item2.RequestID)
	assert.Equal(t, 6, item2.EffectivePriority)
	assert.Equal(t, 9, item2.OriginalPriority)
}

func TestAgingNeverExceedsOriginalOrGoesBelowZero(t *testing.T) {
	q := New(10, 5, true, 1)
	require.NoError(t, q.Enqueue("a", nil, intPtr(2)))

	q.mu.Lock()
	q.heap[0].EntryTime = time.Now().Add(-100 * time.Second)
	q.mu.Unlock()

	item, err := q.Dequeue()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, item.EffectivePriority, 0)
	assert.LessOrEqual(t, item.EffectivePriority, item.OriginalPriority)
	assert.Equal(t, 0, item.EffectivePriority)
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(10, 5, false, 0)
	done := make(chan *Item, 1)
	go func() {
		item, err := q.Dequeue()
		if err == nil {
			done <- item
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue("late", "payload", nil))

	select {
	case item := <-done:
		assert.Equal(t, "late", item.RequestID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock after enqueue")
	}
}

func TestCloseUnblocksWaitersAndRejectsEnqueue(t *testing.T) {
	q := New(10, 5, false, 0)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = q.Dequeue()
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	q.Close()
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrClosed)
	}

	err := q.Enqueue("after-close", nil, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseDrainsExistingItemsBeforeErrClosed(t *testing.T) {
	q := New(10, 5, false, 0)
	require.NoError(t, q.Enqueue("a", nil, nil))
	q.Close()

	item, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "a", item.RequestID)

	_, err = q.Dequeue()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStatsReportsDepthAndMaxSize(t *testing.T) {
	q := New(5, 5, false, 0)
	require.NoError(t, q.Enqueue("a", nil, nil))
	require.NoError(t, q.Enqueue("b", nil, nil))

	stats := q.Stats()
	assert.Equal(t, 2, stats.Depth)
	assert.Equal(t, 5, stats.MaxSize)
	assert.False(t, stats.Closed)
}

func TestStatsReportsPriorityAndWaitSpread(t *testing.T) {
	q := New(5, 5, false, 0)
	require.NoError(t, q.Enqueue("a", nil, intPtr(1)))
	require.NoError(t, q.Enqueue("b", nil, intPtr(9)))

	stats := q.Stats()
	assert.Equal(t, 1, stats.MinEffectivePriority)
	assert.Equal(t, 9, stats.MaxEffectivePriority)
	assert.GreaterOrEqual(t, stats.OldestWaitSeconds, 0.0)
}

func intPtr(v int) *int { return &v }

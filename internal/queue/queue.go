// Package queue implements the bounded priority queue that sits in front of
// the inference worker. Jobs are ordered by (effective_priority, entry_time)
// ascending: lower priority numbers are more important. When starvation
// prevention is enabled, every dequeue ages the whole heap first so that
// long-waiting background jobs eventually outrank fresh ones.
package queue

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned by Enqueue when the queue is at max capacity.
	ErrQueueFull = errors.New("queue: full")
	// ErrClosed is returned by Dequeue once the queue has been closed and
	// drained, and by Enqueue once the queue has been closed.
	ErrClosed = errors.New("queue: closed")
)

// Item is a single job waiting for a worker. Payload carries whatever the
// caller enqueued (a typed request plus its sink, in practice) and is opaque
// to the queue itself.
type Item struct {
	RequestID        string
	Payload          any
	OriginalPriority int
	EffectivePriority int
	EntryTime        time.Time

	index int // heap bookkeeping, unused by callers
}

// jobHeap implements container/heap.Interface ordered by
// (EffectivePriority asc, EntryTime asc).
type jobHeap []*Item

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].EffectivePriority != h[j].EffectivePriority {
		return h[i].EffectivePriority < h[j].EffectivePriority
	}
	return h[i].EntryTime.Before(h[j].EntryTime)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	item := x.(*Item)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Stats is a point-in-time snapshot of queue depth and priority spread.
// MinEffectivePriority, MaxEffectivePriority, and OldestWaitSeconds are zero
// when the queue is empty.
type Stats struct {
	Depth                int
	MaxSize              int
	Closed               bool
	MinEffectivePriority int
	MaxEffectivePriority int
	OldestWaitSeconds    float64
}

// Queue is a bounded, agable min-priority queue. The zero value is not
// usable; construct with New.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond
	heap jobHeap

	maxSize              int
	defaultPriority      int
	starvationPrevention bool
	agingIntervalSec     int

	closed bool
}

// New creates a Queue bounded at maxSize (<=0 means unbounded). When
// starvationPrevention is true, Dequeue ages every waiting item using
// agingIntervalSec before popping the head.
func New(maxSize int, defaultPriority int, starvationPrevention bool, agingIntervalSec int) *Queue {
	q := &Queue{
		heap:                 make(jobHeap, 0),
		maxSize:              maxSize,
		defaultPriority:      defaultPriority,
		starvationPrevention: starvationPrevention,
		agingIntervalSec:     agingIntervalSec,
	}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.heap)
	return q
}

// Enqueue adds a job to the queue. priority, if non-nil, overrides the
// configured default priority for both the original and effective priority
// of the item. Wakes exactly one waiting Dequeue call.
func (q *Queue) Enqueue(requestID string, payload any, priority *int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.maxSize > 0 && len(q.heap) >= q.maxSize {
		return ErrQueueFull
	}

	p := q.defaultPriority
	if priority != nil {
		p = *priority
	}

	item := &Item{
		RequestID:         requestID,
		Payload:           payload,
		OriginalPriority:  p,
		EffectivePriority: p,
		EntryTime:         time.Now(),
	}
	heap.Push(&q.heap, item)
	q.cond.Signal()
	return nil
}

// Dequeue blocks until an item is available, the queue is closed, or ctx-less
// cancellation isn't needed (callers that want cancellation should race this
// against their own context and Close the queue on shutdown). Returns
// ErrClosed once the queue has been closed and drained.
func (q *Queue) Dequeue() (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.heap) == 0 {
		if q.closed {
			return nil, ErrClosed
		}
		q.cond.Wait()
	}

	if q.starvationPrevention {
		q.agePass()
	}

	item := heap.Pop(&q.heap).(*Item)
	return item, nil
}

// agePass recomputes EffectivePriority for every waiting item and
// re-establishes heap order if anything moved. Must be called with q.mu held.
func (q *Queue) agePass() {
	if q.agingIntervalSec <= 0 {
		return
	}
	now := time.Now()
	interval := time.Duration(q.agingIntervalSec) * time.Second
	moved := false
	for _, it := range q.heap {
		boost := int(now.Sub(it.EntryTime) / interval)
		effective := it.OriginalPriority - boost
		if effective < 0 {
			effective = 0
		}
		if effective != it.EffectivePriority {
			it.EffectivePriority = effective
			moved = true
		}
	}
	if moved {
		heap.Init(&q.heap)
	}
}

// Stats reports the current depth, configuration, and priority spread.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{Depth: len(q.heap), MaxSize: q.maxSize, Closed: q.closed}
	for i, it := range q.heap {
		if i == 0 || it.EffectivePriority < stats.MinEffectivePriority {
			stats.MinEffectivePriority = it.EffectivePriority
		}
		if i == 0 || it.EffectivePriority > stats.MaxEffectivePriority {
			stats.MaxEffectivePriority = it.EffectivePriority
		}
		wait := time.Since(it.EntryTime).Seconds()
		if wait > stats.OldestWaitSeconds {
			stats.OldestWaitSeconds = wait
		}
	}
	return stats
}

// Close marks the queue closed and wakes all blocked Dequeue callers. Items
// still queued remain available to Dequeue; Enqueue returns ErrClosed from
// then on, and Dequeue returns ErrClosed once the queue drains.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

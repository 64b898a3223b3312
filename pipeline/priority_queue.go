// Implements the first-tier PriorityQueue: three FIFO levels keyed by request
// priority, with strict precedence across levels and strict arrival order
// within a level.

package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrQueueEmpty signals that all priority levels are empty.
	ErrQueueEmpty = errors.New("queue empty")
	// ErrCapacityExceeded signals that the target priority level is at its
	// configured maximum. The caller decides whether to drop or retry.
	ErrCapacityExceeded = errors.New("queue capacity exceeded")
)

// QueueEntry pairs a request with the time it entered the queue. Ownership
// transfers to the processing loop on dequeue; wait time is dequeue time
// minus EnqueuedAt.
type QueueEntry struct {
	Request    Request
	EnqueuedAt time.Time
}

// PriorityQueue holds one FIFO level per priority (3 highest, 1 lowest).
// Enqueue happens on connection-handler goroutines and dequeue on the node's
// single processing loop, so access is serialized by a mutex.
type PriorityQueue struct {
	mu       sync.Mutex
	levels   map[int][]QueueEntry
	maxLevel int // per-level capacity
}

// NewPriorityQueue creates a queue with levels for priorities 1..3, each
// bounded to maxPerLevel entries.
func NewPriorityQueue(maxPerLevel int) *PriorityQueue {
	return &PriorityQueue{
		levels: map[int][]QueueEntry{
			1: nil,
			2: nil,
			3: nil,
		},
		maxLevel: maxPerLevel,
	}
}

// Enqueue timestamps the request and appends it to the level matching its
// priority. Fails with ErrCapacityExceeded when that level is full and with a
// plain error for a priority outside 1..3.
func (q *PriorityQueue) Enqueue(req Request, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	level, ok := q.levels[req.Priority]
	if !ok {
		return fmt.Errorf("no queue level for priority %d", req.Priority)
	}
	if len(level) >= q.maxLevel {
		return fmt.Errorf("priority %d: %w", req.Priority, ErrCapacityExceeded)
	}
	q.levels[req.Priority] = append(level, QueueEntry{Request: req, EnqueuedAt: now})
	return nil
}

// DequeueNext scans priority levels from highest to lowest and returns the
// oldest entry of the first non-empty level (the get-next-request rule), or
// ErrQueueEmpty when all levels are empty. This guarantees a request is never
// dequeued while a higher-priority request waits, and FIFO order within a
// level.
func (q *PriorityQueue) DequeueNext() (QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for prio := 3; prio >= 1; prio-- {
		level := q.levels[prio]
		if len(level) == 0 {
			continue
		}
		entry := level[0]
		q.levels[prio] = level[1:]
		return entry, nil
	}
	return QueueEntry{}, ErrQueueEmpty
}

// Len returns the total number of queued entries across all levels.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, level := range q.levels {
		total += len(level)
	}
	return total
}

// LevelLen returns the number of entries queued at one priority level.
func (q *PriorityQueue) LevelLen(priority int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.levels[priority])
}

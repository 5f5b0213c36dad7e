// Package workqueue implements the typed, priority in-flight message
// queues of §2/§5: one queue per worker thread, each with a counting
// semaphore so idle workers block instead of spinning.
package workqueue

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// WorkItem is one dispatchable unit: a protocol message plus routing
// metadata. HighPriority items (votes, QCs, NewView) are drained before
// low-priority ones (fresh proposals, client batches) so a leader's
// in-flight phase always makes progress ahead of new work (§2 "Work
// Queue: typed priority queues").
type WorkItem struct {
	Kind         string
	InstanceID   uint64
	Payload      interface{}
	HighPriority bool
}

// Queue is a single worker's inbox. Workers suspend on Pop via a
// semaphore whose count equals the number of queued items -- fair,
// no spin, per §5 "Suspension points".
type Queue struct {
	mu   sync.Mutex
	high []WorkItem
	low  []WorkItem
	sem  *semaphore.Weighted
}

// maxQueueWeight is effectively unbounded; the semaphore here is used
// purely as a blocking counter, not as a capacity limiter.
const maxQueueWeight = 1 << 40

func NewQueue() *Queue {
	// Take every permit up front so the count starts at zero queued items.
	sem := semaphore.NewWeighted(maxQueueWeight)
	sem.TryAcquire(maxQueueWeight)
	return &Queue{sem: sem}
}

func (q *Queue) Push(item WorkItem) {
	q.mu.Lock()
	if item.HighPriority {
		q.high = append(q.high, item)
	} else {
		q.low = append(q.low, item)
	}
	q.mu.Unlock()
	q.sem.Release(1)
}

// Pop blocks until an item is available or ctx is cancelled (the
// shutdown path: every queue's semaphore is posted once more on
// shutdown so blocked workers observe ctx.Done and exit -- §5
// "Cancellation/timeouts").
func (q *Queue) Pop(ctx context.Context) (WorkItem, bool) {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return WorkItem{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.high) > 0 {
		item := q.high[0]
		q.high = q.high[1:]
		return item, true
	}
	if len(q.low) > 0 {
		item := q.low[0]
		q.low = q.low[1:]
		return item, true
	}
	// Acquired a permit but nothing queued: can only happen on the
	// shutdown wakeup posting. Return zero-value, caller checks ctx.
	return WorkItem{}, false
}

// WakeShutdown posts one extra permit so a worker parked in Pop wakes up
// and observes ctx.Done without ever needing to spin-wait.
func (q *Queue) WakeShutdown() {
	q.sem.Release(1)
}

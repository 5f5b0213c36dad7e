// Package execute implements the Execute thread of §4.4: it pops
// committed batches from a min-heap in strict ascending global index
// order and applies them to the Database, the one component this
// package treats as an external collaborator (§1).
package execute

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"hotstuff/configs"
)

// Database is the external, out-of-scope persistent store (§1): the
// consensus core only ever calls Apply.
type Database interface {
	Apply(txnID uint64, reqs []Request) (result []byte, err error)
}

// ResultHandler is invoked once per executed batch, in order, so the
// caller can build the ClientResponse and hand it to the output thread
// (§2 "Data flow").
type ResultHandler func(batch *CommittedBatch, result []byte)

// Thread is the execute thread: single-threaded by design (§5 "Thread
// roles: execute[1]").
type Thread struct {
	db      Database
	onExec  ResultHandler
	heap    *batchHeap
	mu      sync.Mutex
	expected uint64
	sem     *semaphore.Weighted
	acquired bool
}

// NewThread constructs the execute thread. expected is re-derived
// from first principles (§9 Open Questions flags the original's
// "batch_size - 2" constant as suspicious off-by-one compensation): the
// first batch ever proposed carries global index 0, so execution simply
// starts expecting index 0.
func NewThread(db Database, onExec ResultHandler) *Thread {
	// Take every permit up front so Run's Acquire blocks until Enqueue or
	// WakeShutdown releases one.
	sem := semaphore.NewWeighted(1 << 40)
	sem.TryAcquire(1 << 40)
	return &Thread{
		db:       db,
		onExec:   onExec,
		heap:     newBatchHeap(),
		expected: 0,
		sem:      sem,
	}
}

// Enqueue inserts a newly committed batch into the heap. If it is (or
// becomes) the next expected index, the execute thread's semaphore is
// signaled so it wakes with zero CPU spent idling (§4.4).
func (t *Thread) Enqueue(b *CommittedBatch) {
	t.mu.Lock()
	t.heap.insert(b)
	top := t.heap.peek()
	signal := top != nil && top.Idx == t.expected
	t.mu.Unlock()
	if signal {
		t.sem.Release(1)
	}
}

// Run drives the execute loop until ctx is cancelled. On each wakeup it
// drains every batch whose idx matches the current expected count,
// applying them in order, then blocks again.
func (t *Thread) Run(ctx context.Context) {
	for {
		if err := t.sem.Acquire(ctx, 1); err != nil {
			return
		}
		t.drain()
	}
}

func (t *Thread) drain() {
	for {
		t.mu.Lock()
		top := t.heap.peek()
		if top == nil || top.Idx != t.expected {
			t.mu.Unlock()
			return
		}
		batch := t.heap.pop()
		t.expected++
		t.mu.Unlock()

		result, err := t.db.Apply(batch.TxnID, batch.Requests)
		configs.CheckError(err)
		if t.onExec != nil {
			t.onExec(batch, result)
		}
		configs.TPrintf("executed idx=%d txn_id=%d", batch.Idx, batch.TxnID)
	}
}

// ExpectedIndex reports the next global index the execute thread will
// apply -- used by the checkpoint manager and by tests verifying §8's
// "strictly increasing idx" property.
func (t *Thread) ExpectedIndex() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expected
}

// WakeShutdown lets a blocked Run observe ctx.Done without spin-waiting.
func (t *Thread) WakeShutdown() {
	t.sem.Release(1)
}

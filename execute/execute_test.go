package execute

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingDB struct {
	mu      sync.Mutex
	applied []uint64
}

func (d *recordingDB) Apply(txnID uint64, reqs []Request) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applied = append(d.applied, txnID)
	return []byte("ok"), nil
}

func TestExecuteThreadAppliesInAscendingOrder(t *testing.T) {
	db := &recordingDB{}
	var mu sync.Mutex
	var seen []uint64
	thread := NewThread(db, func(b *CommittedBatch, result []byte) {
		mu.Lock()
		seen = append(seen, b.Idx)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go thread.Run(ctx)

	// Insert out of order: the heap must still drain in strict index order.
	thread.Enqueue(&CommittedBatch{Idx: 2, TxnID: 2})
	thread.Enqueue(&CommittedBatch{Idx: 0, TxnID: 0})
	thread.Enqueue(&CommittedBatch{Idx: 1, TxnID: 1})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{0, 1, 2}, seen)
}

func TestExecuteThreadWaitsForGap(t *testing.T) {
	db := &recordingDB{}
	thread := NewThread(db, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go thread.Run(ctx)

	thread.Enqueue(&CommittedBatch{Idx: 1, TxnID: 1})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, uint64(0), thread.ExpectedIndex())

	thread.Enqueue(&CommittedBatch{Idx: 0, TxnID: 0})
	assert.Eventually(t, func() bool {
		return thread.ExpectedIndex() == 2
	}, time.Second, time.Millisecond)
}

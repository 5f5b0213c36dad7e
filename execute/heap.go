package execute

import "container/heap"

// CommittedBatch is a decided batch waiting for its turn in the global
// execution order (§3 "Global execution order is ascending idx").
type CommittedBatch struct {
	Idx        uint64
	TxnID      uint64
	InstanceID uint64
	View       uint64
	Requests   []Request
}

// Request mirrors message.Request without importing the message package
// from here, keeping execute's Database boundary dependency-light (the
// engine package is what wires message.Request -> execute.Request).
type Request struct {
	ClientID uint64
	SeqNo    uint64
	Payload  []byte
}

type batchHeap []*CommittedBatch

func (h batchHeap) Len() int            { return len(h) }
func (h batchHeap) Less(i, j int) bool   { return h[i].Idx < h[j].Idx }
func (h batchHeap) Swap(i, j int)        { h[i], h[j] = h[j], h[i] }
func (h *batchHeap) Push(x interface{}) { *h = append(*h, x.(*CommittedBatch)) }
func (h *batchHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func newBatchHeap() *batchHeap {
	h := &batchHeap{}
	heap.Init(h)
	return h
}

func (h *batchHeap) insert(b *CommittedBatch) { heap.Push(h, b) }

func (h *batchHeap) peek() *CommittedBatch {
	if h.Len() == 0 {
		return nil
	}
	return (*h)[0]
}

func (h *batchHeap) pop() *CommittedBatch { return heap.Pop(h).(*CommittedBatch) }

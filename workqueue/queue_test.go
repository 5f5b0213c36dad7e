package workqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan WorkItem, 1)
	go func() {
		item, ok := q.Pop(ctx)
		if ok {
			done <- item
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(WorkItem{Kind: "x"})

	select {
	case item := <-done:
		assert.Equal(t, "x", item.Kind)
	case <-ctx.Done():
		t.Fatal("timed out waiting for push")
	}
}

func TestQueueHighPriorityDrainsFirst(t *testing.T) {
	q := NewQueue()
	q.Push(WorkItem{Kind: "low"})
	q.Push(WorkItem{Kind: "high", HighPriority: true})

	ctx := context.Background()
	first, _ := q.Pop(ctx)
	assert.Equal(t, "high", first.Kind)
	second, _ := q.Pop(ctx)
	assert.Equal(t, "low", second.Kind)
}

func TestWakeShutdownUnblocksPop(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(ctx)
		result <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	q.WakeShutdown()

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("pop never unblocked")
	}
}

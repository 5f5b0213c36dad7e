package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateIfNotExistReturnsSameManager(t *testing.T) {
	table := NewTable(1)
	m1 := table.CreateIfNotExist(5, 0)
	m2 := table.CreateIfNotExist(5, 0)
	assert.Same(t, m1, m2)
}

func TestDeleteUpToGarbageCollects(t *testing.T) {
	table := NewTable(1)
	for i := uint64(0); i < 5; i++ {
		table.CreateIfNotExist(i, 0)
	}
	table.DeleteUpTo(2)

	_, ok := table.Get(0)
	assert.False(t, ok)
	_, ok = table.Get(2)
	assert.False(t, ok)
	_, ok = table.Get(3)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), table.LastDeletedTM())
}

func TestBelowWindowAfterGC(t *testing.T) {
	table := NewTable(1)
	table.CreateIfNotExist(0, 0)
	table.CreateIfNotExist(1, 0)
	assert.False(t, table.BelowWindow(0))
	table.DeleteUpTo(0)
	assert.True(t, table.BelowWindow(0))
	assert.False(t, table.BelowWindow(1))
}

package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hotstuff/message"
)

func TestSafeNodeVacuouslyTrueOnGenesisLock(t *testing.T) {
	locked := message.GenesisQC(1)
	high := &message.QC{View: 5, BatchHash: []byte("x")}
	assert.True(t, SafeNode(high, locked))
}

func TestSafeNodeAcceptsHigherView(t *testing.T) {
	locked := &message.QC{View: 3, BatchHash: []byte("a")}
	high := &message.QC{View: 4, BatchHash: []byte("b")}
	assert.True(t, SafeNode(high, locked))
}

func TestSafeNodeAcceptsSameBranch(t *testing.T) {
	locked := &message.QC{View: 3, BatchHash: []byte("a")}
	high := &message.QC{View: 3, BatchHash: []byte("a")}
	assert.True(t, SafeNode(high, locked))
}

func TestSafeNodeRejectsConflictingEqualView(t *testing.T) {
	locked := &message.QC{View: 3, BatchHash: []byte("a")}
	high := &message.QC{View: 3, BatchHash: []byte("different")}
	assert.False(t, SafeNode(high, locked))
}

func TestSafeNodeRejectsStaleView(t *testing.T) {
	locked := &message.QC{View: 5, BatchHash: []byte("a")}
	high := &message.QC{View: 4, BatchHash: []byte("a")}
	assert.False(t, SafeNode(high, locked))
}

func TestAcceptQCFreshnessGate(t *testing.T) {
	current := message.GenesisQC(0)
	candidate := &message.QC{View: 1}
	updated, changed := AcceptQC(current, candidate)
	assert.True(t, changed)
	assert.Same(t, candidate, updated)

	stale := &message.QC{View: 0}
	updated2, changed2 := AcceptQC(updated, stale)
	assert.False(t, changed2)
	assert.Same(t, updated, updated2)
}

package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hotstuff/message"
)

func TestVoteSetReadyAtQuorum(t *testing.T) {
	// f = 1 -> quorum 2f+1 = 3; remaining starts at 2f+1 = 3, the
	// leader's own vote included.
	vs := NewVoteSet(1)
	ready, dup := vs.Add(1, []byte("s1"))
	assert.False(t, dup)
	assert.False(t, ready)
	ready, dup = vs.Add(2, []byte("s2"))
	assert.False(t, dup)
	assert.False(t, ready)
	ready, dup = vs.Add(3, []byte("s3"))
	assert.False(t, dup)
	assert.True(t, ready)
	assert.Equal(t, 3, vs.Count())
}

func TestVoteSetDuplicateIgnored(t *testing.T) {
	vs := NewVoteSet(1)
	vs.Add(1, []byte("s1"))
	_, dup := vs.Add(1, []byte("s1-again"))
	assert.True(t, dup)
	assert.Equal(t, 1, vs.Count())
}

func TestManagerReadyFlagIsExclusive(t *testing.T) {
	m := New(1, 0, 1)
	assert.True(t, m.TryAcquire())
	assert.False(t, m.TryAcquire())
	m.Release()
	assert.True(t, m.TryAcquire())
	m.Release()
}

func TestManagerPhaseFlagsAreMonotonic(t *testing.T) {
	m := New(1, 0, 1)
	m.SetPrepared()
	assert.True(t, m.Prepared)
	m.SetPrepared()
	assert.True(t, m.Prepared)
}

func TestEarlyVoteBufferingAndDraining(t *testing.T) {
	m := New(1, 0, 1)
	v1 := &message.VoteMsg{Header: message.Header{SrcNode: 2}}
	v2 := &message.VoteMsg{Header: message.Header{SrcNode: 3}}
	m.BufferEarlyVote(&m.InfoPrepare, v1)
	m.BufferEarlyVote(&m.InfoPrepare, v2)
	assert.Len(t, m.InfoPrepare, 2)

	drained := m.DrainInfoPrepare()
	assert.Len(t, drained, 2)
	assert.Len(t, m.InfoPrepare, 0)
}

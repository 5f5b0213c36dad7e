package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hotstuff/message"
)

func TestLeaderRotationSingleInstance(t *testing.T) {
	inst := New(0)
	inst.AdvanceView(5)
	assert.Equal(t, uint64(5)%4, inst.Leader(4, false))
}

func TestLeaderRotationPVPOffsetsByInstance(t *testing.T) {
	inst := New(2)
	inst.AdvanceView(5)
	assert.Equal(t, (uint64(5)+2)%4, inst.Leader(4, true))
}

func TestAdvanceViewOnlyMovesForward(t *testing.T) {
	inst := New(0)
	assert.True(t, inst.AdvanceView(3))
	assert.False(t, inst.AdvanceView(2))
	assert.Equal(t, uint64(3), inst.View())
}

func TestUpdateLockedQCRespectsFreshness(t *testing.T) {
	inst := New(0)
	assert.True(t, inst.LockedQC().Genesis)
	qc := &message.QC{View: 2, BatchHash: []byte("a")}
	assert.True(t, inst.UpdateLockedQC(qc))
	assert.False(t, inst.UpdateLockedQC(&message.QC{View: 1, BatchHash: []byte("b")}))
	assert.Same(t, qc, inst.LockedQC())
}

// Package instance holds per-instance consensus state (§3 "Instance"):
// view, preparedQC, lockedQC, leader rotation, and the multi-instance
// scheduler and view-change timer that drive them.
package instance

import (
	"sync"

	"hotstuff/configs"
	"hotstuff/consensus"
	"hotstuff/message"
)

// Instance is one independent consensus lane. In single-instance mode
// there is exactly one; in PVP mode there are MultiInstances of them,
// each with its own view counter, QCs and leader rotation (§4.3).
type Instance struct {
	ID uint64

	mu            sync.RWMutex
	view          uint64
	preparedQC    *message.QC
	lockedQC      *message.QC
	newViewStable bool
}

func New(id uint64) *Instance {
	return &Instance{
		ID:         id,
		view:       0,
		preparedQC: message.GenesisQC(configs.QCPrepare),
		lockedQC:   message.GenesisQC(configs.QCPreCommit),
	}
}

func (i *Instance) View() uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.view
}

// AdvanceView moves the instance to v if v is strictly newer, returning
// whether it changed. Used both by the normal-case decide path (view
// stays put) and by the view-change path (view strictly increases).
func (i *Instance) AdvanceView(v uint64) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if v <= i.view {
		return false
	}
	i.view = v
	i.newViewStable = false
	return true
}

// Leader computes the leader of the instance's current view: (v+k) mod n
// in PVP mode, v mod n in single-instance mode (§3).
func (i *Instance) Leader(nodeCount uint64, pvp bool) uint64 {
	v := i.View()
	if pvp {
		return (v + i.ID) % nodeCount
	}
	return v % nodeCount
}

func (i *Instance) IsLeader(nodeID, nodeCount uint64, pvp bool) bool {
	return i.Leader(nodeCount, pvp) == nodeID
}

// LeaderForView computes the leader of an arbitrary view v rather than
// the instance's current view — the view-change path needs this because
// the would-be new leader must recognize itself before it has locally
// advanced to v yet (§4.2).
func (i *Instance) LeaderForView(v, nodeCount uint64, pvp bool) uint64 {
	if pvp {
		return (v + i.ID) % nodeCount
	}
	return v % nodeCount
}

func (i *Instance) IsLeaderForView(nodeID, v, nodeCount uint64, pvp bool) bool {
	return i.LeaderForView(v, nodeCount, pvp) == nodeID
}

func (i *Instance) PreparedQC() *message.QC {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.preparedQC
}

func (i *Instance) LockedQC() *message.QC {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.lockedQC
}

// UpdatePreparedQC applies the freshness gate of §4.1 and then enforces
// the §3 invariant lockedQC.view <= preparedQC.view by construction: a
// prepared QC is only ever written here, and locked QC updates (below)
// only ever copy an already-accepted prepared-or-later QC.
func (i *Instance) UpdatePreparedQC(candidate *message.QC) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	qc, changed := consensus.AcceptQC(i.preparedQC, candidate)
	i.preparedQC = qc
	return changed
}

// UpdateLockedQC is the "lock" step of §4.1's commit phase: safety
// hinges on this write.
func (i *Instance) UpdateLockedQC(candidate *message.QC) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	qc, changed := consensus.AcceptQC(i.lockedQC, candidate)
	i.lockedQC = qc
	return changed
}

// SafeToVote applies SafeNode against this instance's current lockedQC.
func (i *Instance) SafeToVote(highQC *message.QC) bool {
	return consensus.SafeNode(highQC, i.LockedQC())
}

func (i *Instance) MarkNewViewStable() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.newViewStable = true
}

func (i *Instance) NewViewStable() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.newViewStable
}

// Package checkpoint implements the stable-checkpoint / garbage-
// collection protocol of §4.5: every TxnPerCheckpoint executed batches,
// replicas agree on a checkpoint and reclaim TxnManagers below it.
package checkpoint

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidwall/wal"
	"golang.org/x/sync/semaphore"

	"hotstuff/configs"
	"hotstuff/txn"
)

// round is one in-flight checkpoint agreement at index Idx.
type round struct {
	mu     sync.Mutex
	idx    uint64
	digest [32]byte
	votes  map[uint64]bool
	stable bool
}

// Manager runs the checkpoint protocol. Two slots are maintained
// concurrently (g_checkpointing_thd = 2 in the original; here
// cfg.CheckpointSlots) so a replica never blocks committed-batch
// execution on one slow checkpoint round (§4.5).
type Manager struct {
	cfg   *configs.ConsensusConfig
	table *txn.Table
	log   *wal.Log
	lsn   uint64

	slots *semaphore.Weighted

	mu       sync.Mutex
	rounds   map[uint64]*round
	stableAt uint64

	onStable func(idx uint64)
}

// NewManager opens (or creates) the on-disk WAL at dir that durably
// records every stable checkpoint. On reopen only the WAL's write
// position is resumed; the stable index and the txn table's
// last_deleted_tm are not restored from it.
func NewManager(cfg *configs.ConsensusConfig, table *txn.Table, dir string, onStable func(idx uint64)) (*Manager, error) {
	log, err := wal.Open(dir, nil)
	if err != nil {
		return nil, err
	}
	lastIdx, err := log.LastIndex()
	if err != nil {
		return nil, err
	}
	slots := cfg.CheckpointSlots
	if slots < 1 {
		slots = 1
	}
	return &Manager{
		cfg:      cfg,
		table:    table,
		log:      log,
		lsn:      lastIdx,
		slots:    semaphore.NewWeighted(int64(slots)),
		rounds:   make(map[uint64]*round),
		onStable: onStable,
	}, nil
}

// ShouldCheckpoint reports whether idx is the index that should trigger
// a new checkpoint round, i.e. every TxnPerCheckpoint executed batches.
// §9's Open Questions flags the original's "TXN_PER_CHKPT - 5" initial
// value as unexplained off-by-one compensation; re-derived from first
// principles, a checkpoint is due exactly when the count of executed
// batches since the last one reaches TxnPerCheckpoint.
func (m *Manager) ShouldCheckpoint(executedCount uint64) bool {
	c := m.cfg.TxnPerCheckpoint
	return c > 0 && executedCount > 0 && executedCount%c == 0
}

// StartRound begins a new checkpoint agreement at idx with this
// replica's own vote for digest already counted, and returns ok=false if
// no slot is currently free (best-effort: the next executed batch that
// lands on a checkpoint boundary will simply try again once a slot
// frees up).
func (m *Manager) StartRound(idx uint64, digest [32]byte, selfNode uint64) (started bool) {
	if !m.slots.TryAcquire(1) {
		configs.Warn(false, fmt.Sprintf("checkpoint: no free slot for idx %d, deferring", idx))
		return false
	}
	m.mu.Lock()
	r, exists := m.rounds[idx]
	if !exists {
		r = &round{idx: idx, digest: digest, votes: make(map[uint64]bool)}
		m.rounds[idx] = r
	}
	m.mu.Unlock()
	r.mu.Lock()
	r.votes[selfNode] = true
	r.mu.Unlock()
	return true
}

// HandleVote records a peer's Checkpoint message. When >= 2f+1 matching
// votes accumulate, the checkpoint becomes stable: TMs with txn_id <=
// idx are destroyed (§4.5) and the boundary is persisted to the WAL.
func (m *Manager) HandleVote(nodeID, idx uint64, digest [32]byte) bool {
	m.mu.Lock()
	r, exists := m.rounds[idx]
	if !exists {
		r = &round{idx: idx, digest: digest, votes: make(map[uint64]bool)}
		m.rounds[idx] = r
	}
	m.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stable {
		return false
	}
	if digest != r.digest {
		// Conflicting digest for the same index from a Byzantine replica:
		// drop per §7 (invalid message), never crash on it.
		configs.Warn(false, fmt.Sprintf("checkpoint: conflicting digest for idx %d from node %d", idx, nodeID))
		return false
	}
	r.votes[nodeID] = true
	if uint64(len(r.votes)) < m.cfg.Quorum() {
		return false
	}
	r.stable = true
	m.advance(idx)
	return true
}

func (m *Manager) advance(idx uint64) {
	m.mu.Lock()
	if idx <= m.stableAt {
		m.mu.Unlock()
		return
	}
	m.stableAt = idx
	m.lsn++
	lsn := m.lsn
	delete(m.rounds, idx)
	m.mu.Unlock()

	if err := m.log.Write(lsn, []byte(fmt.Sprintf("stable-checkpoint idx=%d", idx))); err != nil {
		configs.Warn(false, "checkpoint: wal write failed: "+err.Error())
	}
	m.table.DeleteUpTo(idx)
	m.slots.Release(1)
	if m.onStable != nil {
		m.onStable(idx)
	}
}

func (m *Manager) StableAt() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stableAt
}

// Close releases the WAL handle on shutdown.
func (m *Manager) Close(_ context.Context) error {
	return m.log.Close()
}

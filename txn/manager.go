// Package txn implements the per-batch Transaction Manager (TM, §3) and
// its concurrent pool (the Transaction Table, §3/§5).
package txn

import (
	"sync"

	lock "github.com/viney-shih/go-lock"

	"hotstuff/configs"
	"hotstuff/message"
)

// VoteSet is one phase's vote tally for one TM: the set of contributing
// node ids plus their shares, and a countdown that starts at 2f+1 and
// reaches zero exactly when 2f+1 distinct votes (the leader's own
// self-vote counts as one of them, same as every other replica's) have
// been collected — the minimum BFT quorum size, matching
// ConsensusConfig.Quorum (§4.1 "Vote accounting").
type VoteSet struct {
	mu        sync.Mutex
	voters    map[uint64]bool
	shares    map[uint64][]byte
	remaining int
}

func NewVoteSet(f uint64) *VoteSet {
	return &VoteSet{
		voters:    make(map[uint64]bool),
		shares:    make(map[uint64][]byte),
		remaining: int(2*f + 1),
	}
}

// Add records a vote from nodeID. It returns ready=true the single time
// the countdown reaches zero (the phase just became complete); duplicate
// votes from a node already counted are ignored, per §4.1 and §7.
func (v *VoteSet) Add(nodeID uint64, share []byte) (ready bool, duplicate bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.voters[nodeID] {
		return false, true
	}
	v.voters[nodeID] = true
	v.shares[nodeID] = share
	v.remaining--
	return v.remaining == 0, false
}

// Shares returns a snapshot of the collected shares, suitable for
// Crypto.Combine.
func (v *VoteSet) Shares() map[uint64][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[uint64][]byte, len(v.shares))
	for k, val := range v.shares {
		out[k] = val
	}
	return out
}

func (v *VoteSet) Count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.voters)
}

// Manager is the per-batch state described in §3: phase flags, vote
// tallies, collected QCs, buffered early votes and the original
// proposal. Ownership is transferred between worker goroutines via the
// ready flag (latch), exactly as §4.7 and §9 describe: "at most one
// thread mutates any TM at a time".
type Manager struct {
	latch  lock.CASMutex
	faulty uint64

	TxnID      uint64
	InstanceID uint64
	View       uint64
	Hash       [32]byte
	ParentHash [32]byte

	Prepared     bool
	PreCommitted bool
	Committed    bool
	NewViewed    bool
	Executed     bool

	PrepareVotes   *VoteSet
	PreCommitVotes *VoteSet
	CommitVotes    *VoteSet
	NewViewVotes   *VoteSet

	// NewViewRoundView is the target view NewViewVotes currently tallies
	// for; a view-change round that moves to a still-higher view discards
	// stale votes rather than let them count toward the new one (§4.2).
	NewViewRoundView uint64
	// NewViewBestQC is the highest-view highQC seen so far in the current
	// new-view round (§4.2 "selects the one with the highest highQC.view").
	NewViewBestQC *message.QC

	PreparedQC     *message.QC
	PreCommittedQC *message.QC
	CommittedQC    *message.QC

	// Early-arrival buffers: votes/QCs that named this batch before its
	// Proposal had been seen (§4.1 "Early-arrival handling", §8 scenario 6).
	InfoPrepare []*message.VoteMsg
	InfoCommit  []*message.VoteMsg

	// Proposal is kept so the leader can re-broadcast it after a view
	// change, with its view and HighQC updated to the new view (§3 "the
	// original proposal message").
	Proposal *message.ProposalMsg

	Requests []message.Request
}

// New allocates a fresh TM for txnID. Matches the teacher's
// newTxnHandler: plain constructor, no pooling magic beyond what the
// table layer recycles.
func New(txnID, instanceID uint64, f uint64) *Manager {
	return &Manager{
		faulty:         f,
		TxnID:          txnID,
		InstanceID:     instanceID,
		PrepareVotes:   NewVoteSet(f),
		PreCommitVotes: NewVoteSet(f),
		CommitVotes:    NewVoteSet(f),
		NewViewVotes:   NewVoteSet(f),
	}
}

// ResetNewViewRound starts (or continues) the new-view vote tally for
// targetView: NewViewVotes is scoped to one target view at a time, since
// a replica that times out more than once advances past stale rounds and
// their votes must not count toward a newer one (§4.2).
func (m *Manager) ResetNewViewRound(targetView uint64) *VoteSet {
	if m.NewViewRoundView != targetView {
		m.NewViewVotes = NewVoteSet(m.faulty)
		m.NewViewRoundView = targetView
		m.NewViewBestQC = nil
	}
	return m.NewViewVotes
}

// ConsiderNewViewQC keeps the highest-view highQC seen so far in the
// current new-view round (§4.2 "selects the one with the highest
// highQC.view").
func (m *Manager) ConsiderNewViewQC(qc *message.QC) {
	if m.NewViewBestQC == nil || qc.View > m.NewViewBestQC.View {
		m.NewViewBestQC = qc
	}
}

// TryAcquire implements set_ready: a worker must hold this before
// mutating the TM, and must call Release when done (§4.7, §5).
func (m *Manager) TryAcquire() bool {
	return m.latch.TryLock()
}

func (m *Manager) Acquire() {
	m.latch.Lock()
}

func (m *Manager) Release() {
	m.latch.Unlock()
}

// SetPrepared, SetPreCommitted, ... are monotonic: once true, calling
// again is a no-op. §3's lifecycle states a flag once set is never
// cleared.
func (m *Manager) SetPrepared()     { m.Prepared = true }
func (m *Manager) SetPreCommitted() { m.PreCommitted = true }
func (m *Manager) SetCommitted()    { m.Committed = true }
func (m *Manager) SetNewViewed()    { m.NewViewed = true }
func (m *Manager) SetExecuted()     { m.Executed = true }

// BufferEarlyVote stores a vote that arrived before the matching
// proposal. info selects which buffer (InfoPrepare for prepare-phase
// votes seen pre-proposal, InfoCommit for pre-commit/commit-phase votes).
func (m *Manager) BufferEarlyVote(info *[]*message.VoteMsg, v *message.VoteMsg) {
	*info = append(*info, v)
}

// DrainInfoPrepare returns and clears the buffered pre-proposal prepare
// votes, so the caller can replay them once the proposal lands.
func (m *Manager) DrainInfoPrepare() []*message.VoteMsg {
	out := m.InfoPrepare
	m.InfoPrepare = nil
	return out
}

func (m *Manager) DrainInfoCommit() []*message.VoteMsg {
	out := m.InfoCommit
	m.InfoCommit = nil
	return out
}

// AssertMonotonic is a cheap runtime check of the §3 invariant that a TM
// never regresses through its phases. The worker handlers do not call it.
func AssertMonotonic(was, now bool) {
	configs.Assert(!(was && !now), "txn manager phase flag regressed")
}

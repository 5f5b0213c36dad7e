package worker

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hotstuff/checkpoint"
	"hotstuff/configs"
	"hotstuff/crypto"
	"hotstuff/execute"
	"hotstuff/instance"
	"hotstuff/ioworker"
	"hotstuff/message"
	"hotstuff/transport"
	"hotstuff/txn"
	"hotstuff/workqueue"
)

// replica bundles everything a test cluster node needs, standing in for
// what engine.Engine wires together in a full process.
type replica struct {
	id      uint64
	cfg     *configs.ConsensusConfig
	sched   *instance.Scheduler
	table   *txn.Table
	tp      *transport.Loopback
	disp    *workqueue.Dispatcher
	handler *Handler
	exec    *execute.Thread

	mu      sync.Mutex
	applied []uint64
}

func (r *replica) onExec(b *execute.CommittedBatch, result []byte) {
	r.mu.Lock()
	r.applied = append(r.applied, b.Idx)
	r.mu.Unlock()
}

func (r *replica) appliedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied)
}

type nopDB struct{}

func (nopDB) Apply(txnID uint64, reqs []execute.Request) ([]byte, error) { return []byte("ok"), nil }

func buildCluster(t *testing.T, n int) ([]*replica, func()) {
	return buildClusterOpts(t, n, 10*time.Second, nil)
}

// buildClusterOpts is buildCluster generalized with a configurable
// ViewTimeout and a set of node ids whose input/dispatch goroutines are
// never started, standing in for a crashed or stalled leader that
// proposes once and then never processes anything again (§8 scenario 2).
func buildClusterOpts(t *testing.T, n int, viewTimeout time.Duration, stalled map[int]bool) ([]*replica, func()) {
	net := transport.NewLoopbackNetwork()
	pub := make(map[uint64]ed25519.PublicKey)
	priv := make(map[uint64]ed25519.PrivateKey)
	for id := 0; id < n; id++ {
		p, s, err := ed25519.GenerateKey(nil)
		assert.NoError(t, err)
		pub[uint64(id)] = p
		priv[uint64(id)] = s
	}

	cfg := &configs.ConsensusConfig{NodeCount: uint64(n), MultiInstances: 1, MultiThreads: 1, ViewTimeout: viewTimeout}
	replicas := make([]*replica, n)
	ctx, cancel := context.WithCancel(context.Background())

	for id := 0; id < n; id++ {
		r := &replica{id: uint64(id), cfg: cfg}
		r.sched = instance.NewScheduler(cfg)
		r.table = txn.NewTable(cfg.Faulty())
		r.tp = net.NewNode(uint64(id))
		r.disp = workqueue.NewDispatcher(r.sched, 1)
		r.exec = execute.NewThread(nopDB{}, r.onExec)
		cr := crypto.NewEd25519Crypto(&crypto.KeySet{Self: uint64(id), PrivateKey: priv[uint64(id)], PublicKeys: pub, Quorum: int(cfg.Quorum())})
		r.handler = New(cfg, r.sched, r.table, cr, r.tp, r.exec, nil)
		replicas[id] = r

		if stalled[id] {
			continue
		}

		input := ioworker.NewInputThread(r.tp, r.disp)
		go input.Run(ctx)
		go r.exec.Run(ctx)
		go func(r *replica) {
			q := r.disp.QueueFor(0)
			for {
				item, ok := q.Pop(ctx)
				if !ok {
					if ctx.Err() != nil {
						return
					}
					continue
				}
				r.handler.Dispatch(item)
			}
		}(r)
	}

	return replicas, cancel
}

func TestFourReplicaBatchCommitsAndExecutes(t *testing.T) {
	replicas, cancel := buildCluster(t, 4)
	defer cancel()

	leader := replicas[0]
	batch := &message.ClientBatchMsg{
		Header:   message.Header{MsgType: configs.ClientBatch, SrcNode: 99, InstanceID: 0},
		Requests: []message.Request{{ClientID: 99, SeqNo: 1, Payload: []byte("v1")}},
	}
	leader.handler.Dispatch(workqueue.WorkItem{Kind: configs.ClientBatch, InstanceID: 0, Payload: batch})

	for _, r := range replicas {
		assert.Eventually(t, func() bool { return r.appliedCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	}
}

func TestSecondBatchAdvancesGlobalIndex(t *testing.T) {
	replicas, cancel := buildCluster(t, 4)
	defer cancel()

	leader := replicas[0]
	for i := 0; i < 2; i++ {
		batch := &message.ClientBatchMsg{
			Header:   message.Header{MsgType: configs.ClientBatch, SrcNode: 99, InstanceID: 0},
			Requests: []message.Request{{ClientID: 99, SeqNo: uint64(i + 1), Payload: []byte("v")}},
		}
		leader.handler.Dispatch(workqueue.WorkItem{Kind: configs.ClientBatch, InstanceID: 0, Payload: batch})
	}

	for _, r := range replicas {
		assert.Eventually(t, func() bool { return r.appliedCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	}
	assert.Equal(t, []uint64{0, 1}, replicas[0].applied)
}

// TestViewChangeReProposesStalledLeaderBatch drives §8 scenario 2: node 0
// proposes and then stops responding (its input/dispatch goroutines never
// start), so nodes 1-3 never see a PreCommit QC, their view timers fire,
// and node 1 (leader of view 1) collects 2f+1 NewViews and re-proposes the
// same batch, which then commits and executes under the new view.
func TestViewChangeReProposesStalledLeaderBatch(t *testing.T) {
	replicas, cancel := buildClusterOpts(t, 4, 80*time.Millisecond, map[int]bool{0: true})
	defer cancel()

	leader := replicas[0]
	batch := &message.ClientBatchMsg{
		Header:   message.Header{MsgType: configs.ClientBatch, SrcNode: 99, InstanceID: 0},
		Requests: []message.Request{{ClientID: 99, SeqNo: 1, Payload: []byte("v1")}},
	}
	// The stalled leader's own dispatch goroutine never runs, but its
	// synchronous handling of the initial submission (broadcast + self
	// vote) still executes inline, same as a real leader right up to the
	// moment it stops responding.
	leader.handler.Dispatch(workqueue.WorkItem{Kind: configs.ClientBatch, InstanceID: 0, Payload: batch})

	newLeader := replicas[1]
	for _, r := range []*replica{replicas[1], replicas[2], replicas[3]} {
		assert.Eventually(t, func() bool { return r.appliedCount() == 1 }, 3*time.Second, 5*time.Millisecond)
	}
	assert.Equal(t, uint64(1), newLeader.sched.Instance(0).View(), "commit happens under the new view")
	assert.Equal(t, 0, leader.appliedCount(), "the stalled original leader never catches up in this test")
}

// TestByzantineLeaderEquivocationAtMostOneBranchCommits drives §8 scenario
// 4: a Byzantine leader sends conflicting Prepare proposals for the same
// txn to disjoint subsets of replicas (branch A to nodes {0,1,2}, branch
// B to node 3 alone). Honest replicas only ever sign over their own
// locally-accepted batch hash, so the leader's vote verification (checked
// against its own tm.Hash) silently rejects shares signed over the other
// branch: branch A reaches the 2f+1=3 quorum (leader + nodes 1,2) and
// commits; branch B, alone on node 3, never does.
func TestByzantineLeaderEquivocationAtMostOneBranchCommits(t *testing.T) {
	replicas, cancel := buildClusterOpts(t, 4, 2*time.Second, nil)
	defer cancel()

	leader := replicas[0]
	inst := leader.sched.Instance(0)
	highQC := inst.PreparedQC()
	parentHash := bytesTo32(highQC.BatchHash)

	reqsA := []message.Request{{ClientID: 1, SeqNo: 1, Payload: []byte("branch-A")}}
	reqsB := []message.Request{{ClientID: 2, SeqNo: 1, Payload: []byte("branch-B")}}
	var hashA, hashB [32]byte
	hashA[0] = 0xAA
	hashB[0] = 0xBB

	proposalA := &message.ProposalMsg{
		Header:     message.Header{MsgType: configs.Prepare, SrcNode: 0, TxnID: 0, InstanceID: 0, View: 0},
		BatchHash:  hashA,
		Requests:   reqsA,
		ParentHash: parentHash,
		HighQC:     highQC,
	}
	proposalB := &message.ProposalMsg{
		Header:     message.Header{MsgType: configs.Prepare, SrcNode: 0, TxnID: 0, InstanceID: 0, View: 0},
		BatchHash:  hashB,
		Requests:   reqsB,
		ParentHash: parentHash,
		HighQC:     highQC,
	}

	// The leader itself privately commits to branch A and self-votes,
	// exactly as handleClientBatch would if it had proposed honestly.
	tm := leader.table.CreateIfNotExist(0, 0)
	tm.Acquire()
	tm.View = 0
	tm.Hash = hashA
	tm.ParentHash = parentHash
	tm.Requests = reqsA
	tm.Proposal = proposalA
	leader.handler.active[0] = tm
	tm.Release()
	leader.handler.castVote(phasePrepare, tm, inst)

	// Nodes 1,2 see branch A; node 3 sees branch B only.
	replicas[1].handler.Dispatch(workqueue.WorkItem{Kind: configs.Prepare, InstanceID: 0, Payload: proposalA})
	replicas[2].handler.Dispatch(workqueue.WorkItem{Kind: configs.Prepare, InstanceID: 0, Payload: proposalA})
	replicas[3].handler.Dispatch(workqueue.WorkItem{Kind: configs.Prepare, InstanceID: 0, Payload: proposalB})

	for _, r := range []*replica{leader, replicas[1], replicas[2]} {
		assert.Eventually(t, func() bool { return r.appliedCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	}
	assert.Never(t, func() bool { return replicas[3].appliedCount() != 0 }, 200*time.Millisecond, 10*time.Millisecond,
		"node 3's lone branch-B vote never reaches quorum, so it never executes")
}

// buildCheckpointCluster is buildClusterOpts plus a real per-replica
// checkpoint.Manager (backed by its own temp-dir WAL), needed to drive
// §8 scenario 5 end to end.
func buildCheckpointCluster(t *testing.T, n int, txnPerCheckpoint uint64) ([]*replica, func()) {
	net := transport.NewLoopbackNetwork()
	pub := make(map[uint64]ed25519.PublicKey)
	priv := make(map[uint64]ed25519.PrivateKey)
	for id := 0; id < n; id++ {
		p, s, err := ed25519.GenerateKey(nil)
		assert.NoError(t, err)
		pub[uint64(id)] = p
		priv[uint64(id)] = s
	}

	cfg := &configs.ConsensusConfig{
		NodeCount: uint64(n), MultiInstances: 1, MultiThreads: 1,
		ViewTimeout: 10 * time.Second, TxnPerCheckpoint: txnPerCheckpoint, CheckpointSlots: 2,
	}
	replicas := make([]*replica, n)
	ctx, cancel := context.WithCancel(context.Background())

	for id := 0; id < n; id++ {
		r := &replica{id: uint64(id), cfg: cfg}
		r.sched = instance.NewScheduler(cfg)
		r.table = txn.NewTable(cfg.Faulty())
		r.tp = net.NewNode(uint64(id))
		r.disp = workqueue.NewDispatcher(r.sched, 1)
		r.exec = execute.NewThread(nopDB{}, r.onExec)
		cr := crypto.NewEd25519Crypto(&crypto.KeySet{Self: uint64(id), PrivateKey: priv[uint64(id)], PublicKeys: pub, Quorum: int(cfg.Quorum())})
		ckpt, err := checkpoint.NewManager(cfg, r.table, t.TempDir(), nil)
		assert.NoError(t, err)
		r.handler = New(cfg, r.sched, r.table, cr, r.tp, r.exec, ckpt)
		replicas[id] = r

		input := ioworker.NewInputThread(r.tp, r.disp)
		go input.Run(ctx)
		go r.exec.Run(ctx)
		go func(r *replica) {
			q := r.disp.QueueFor(0)
			for {
				item, ok := q.Pop(ctx)
				if !ok {
					if ctx.Err() != nil {
						return
					}
					continue
				}
				r.handler.Dispatch(item)
			}
		}(r)
	}

	return replicas, cancel
}

// TestCheckpointDropsDelayedVoteBelowWindow drives §8 scenario 5: once
// enough batches commit to cross a checkpoint boundary and 2f+1 matching
// Checkpoint messages arrive, txn.Table reclaims everything up to that
// boundary; a PrepareVote that arrives afterward for an already-collected
// txn is dropped via BelowWindow rather than allocating a new TM for it.
func TestCheckpointDropsDelayedVoteBelowWindow(t *testing.T) {
	const txnPerCheckpoint = 3
	replicas, cancel := buildCheckpointCluster(t, 4, txnPerCheckpoint)
	defer cancel()

	leader := replicas[0]
	for i := 0; i < txnPerCheckpoint; i++ {
		batch := &message.ClientBatchMsg{
			Header:   message.Header{MsgType: configs.ClientBatch, SrcNode: 99, InstanceID: 0},
			Requests: []message.Request{{ClientID: 99, SeqNo: uint64(i + 1), Payload: []byte("v")}},
		}
		leader.handler.Dispatch(workqueue.WorkItem{Kind: configs.ClientBatch, InstanceID: 0, Payload: batch})
	}

	for _, r := range replicas {
		assert.Eventually(t, func() bool { return r.appliedCount() == txnPerCheckpoint }, 3*time.Second, 5*time.Millisecond)
	}
	for _, r := range replicas {
		assert.Eventually(t, func() bool { return r.table.BelowWindow(0) }, 2*time.Second, 5*time.Millisecond,
			"checkpoint GC should reclaim TM 0 once 2f+1 Checkpoint votes land")
	}

	staleVote := &message.VoteMsg{
		Header: message.Header{
			MsgType: configs.PrepareVote, SrcNode: 1, DestHint: 0,
			TxnID: 0, InstanceID: 0, View: 0,
		},
		BatchHash: [32]byte{0x42},
		Share:     []byte("stale-share"),
	}
	_, existedBefore := leader.table.Get(0)
	assert.False(t, existedBefore, "TM 0 was already garbage collected")

	leader.handler.Dispatch(workqueue.WorkItem{Kind: configs.PrepareVote, InstanceID: 0, Payload: staleVote})

	_, existsAfter := leader.table.Get(0)
	assert.False(t, existsAfter, "a delayed vote below the checkpoint window must not resurrect a TM")
}

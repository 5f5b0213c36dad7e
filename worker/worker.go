// Package worker implements the worker thread of §4.7: the dispatch
// contract handling every protocol message type, driving each TM through
// its phases, forming and verifying QCs, and handing committed batches
// to the execute thread.
package worker

import (
	"bytes"
	"fmt"

	"hotstuff/checkpoint"
	"hotstuff/configs"
	"hotstuff/consensus"
	"hotstuff/crypto"
	"hotstuff/execute"
	"hotstuff/instance"
	"hotstuff/message"
	"hotstuff/transport"
	"hotstuff/txn"
	"hotstuff/workqueue"
)

// Handler is one worker thread's view of the replica: every dependency
// it touches is an injected collaborator (§1), so the protocol logic
// here never reaches into a concrete transport or database.
type Handler struct {
	cfg   *configs.ConsensusConfig
	self  uint64
	sched *instance.Scheduler
	table *txn.Table
	cr    crypto.Crypto
	tp    transport.Transport
	exec  *execute.Thread
	ckpt  *checkpoint.Manager

	timers map[uint64]*instance.ViewTimer

	// active is the one TM currently occupying each instance's
	// single-threaded pipeline (§3: at most one in-flight batch per
	// instance at a time). NewView messages don't carry a TxnID, so the
	// view-change path looks the in-flight TM up here rather than
	// through the table (§4.2).
	active map[uint64]*txn.Manager
}

func New(cfg *configs.ConsensusConfig, sched *instance.Scheduler, table *txn.Table, cr crypto.Crypto, tp transport.Transport, exec *execute.Thread, ckpt *checkpoint.Manager) *Handler {
	h := &Handler{
		cfg:    cfg,
		self:   cfg.NodeID,
		sched:  sched,
		table:  table,
		cr:     cr,
		tp:     tp,
		exec:   exec,
		ckpt:   ckpt,
		timers: make(map[uint64]*instance.ViewTimer),
		active: make(map[uint64]*txn.Manager),
	}
	for k := uint64(0); k < sched.InstanceCount(); k++ {
		kk := k
		h.timers[kk] = instance.NewViewTimer(cfg.ViewTimeout, func() { h.onViewTimeout(kk) })
	}
	return h
}

// Dispatch is the single entry point a worker's run loop calls for every
// item popped off its queue (§4.7 "Dispatch contract").
func (h *Handler) Dispatch(item workqueue.WorkItem) {
	switch item.Kind {
	case configs.ClientBatch:
		h.handleClientBatch(item.Payload.(*message.ClientBatchMsg))
	case configs.Prepare:
		h.handleProposal(item.Payload.(*message.ProposalMsg))
	case configs.PrepareVote:
		h.handleVote(phasePrepare, item.Payload.(*message.VoteMsg))
	case configs.PreCommit:
		h.handleQCBroadcast(phasePrepare, item.Payload.(*message.QCBroadcastMsg))
	case configs.PreCommitVote:
		h.handleVote(phasePreCommit, item.Payload.(*message.VoteMsg))
	case configs.Commit:
		h.handleQCBroadcast(phasePreCommit, item.Payload.(*message.QCBroadcastMsg))
	case configs.CommitVote:
		h.handleVote(phaseCommit, item.Payload.(*message.VoteMsg))
	case configs.Decide:
		h.handleQCBroadcast(phaseCommit, item.Payload.(*message.QCBroadcastMsg))
	case configs.NewView:
		h.handleNewView(item.Payload.(*message.NewViewMsg))
	case configs.Checkpoint:
		h.handleCheckpoint(item.Payload.(*message.CheckpointMsg))
	default:
		configs.Warn(false, "worker: unknown message kind "+item.Kind)
	}
}

type phase int

const (
	phasePrepare phase = iota
	phasePreCommit
	phaseCommit
)

func (p phase) qcType() uint8 {
	switch p {
	case phasePrepare:
		return configs.QCPrepare
	case phasePreCommit:
		return configs.QCPreCommit
	default:
		return configs.QCCommit
	}
}

func (p phase) broadcastKind() string {
	switch p {
	case phasePrepare:
		return configs.PreCommit
	case phasePreCommit:
		return configs.Commit
	default:
		return configs.Decide
	}
}

func (p phase) voteKind() string {
	switch p {
	case phasePrepare:
		return configs.PrepareVote
	case phasePreCommit:
		return configs.PreCommitVote
	default:
		return configs.CommitVote
	}
}

func (h *Handler) votesFor(tm *txn.Manager, p phase) *txn.VoteSet {
	switch p {
	case phasePrepare:
		return tm.PrepareVotes
	case phasePreCommit:
		return tm.PreCommitVotes
	default:
		return tm.CommitVotes
	}
}

func (h *Handler) signingBytes(p phase, view uint64, hash [32]byte) []byte {
	qc := &message.QC{Type: p.qcType(), View: view, BatchHash: hash[:]}
	return qc.SigningBytes()
}

// handleClientBatch accepts a client submission when this replica
// believes itself leader of the batch's target instance, assigns the
// batch the instance's next global index, and proposes it (§4.6, §4.7).
func (h *Handler) handleClientBatch(msg *message.ClientBatchMsg) {
	inst := h.sched.Instance(msg.Header.InstanceID)
	if !inst.IsLeader(h.self, h.cfgNC(), h.cfg.MultiInstances > 1) {
		configs.Warn(false, "worker: client batch at non-leader dropped")
		return
	}
	idx := h.sched.AssignIndex(inst.ID)
	hash := message.HashBatch(h.cr.Hash, msg.Requests)
	highQC := inst.PreparedQC()

	tm := h.table.CreateIfNotExist(idx, inst.ID)
	tm.Acquire()
	tm.View = inst.View()
	tm.Hash = hash
	tm.ParentHash = bytesTo32(highQC.BatchHash)
	tm.Requests = msg.Requests

	proposal := &message.ProposalMsg{
		Header: message.Header{
			MsgType:    configs.Prepare,
			SrcNode:    h.self,
			TxnID:      idx,
			InstanceID: inst.ID,
			View:       tm.View,
		},
		BatchHash:  hash,
		Requests:   msg.Requests,
		ParentHash: tm.ParentHash,
		HighQC:     highQC,
	}
	tm.Proposal = proposal
	h.active[inst.ID] = tm
	tm.Release()

	h.broadcast(configs.Prepare, proposal)
	h.timers[inst.ID].Arm()

	// Leader votes for its own proposal immediately (self-vote, §4.1).
	h.castVote(phasePrepare, tm, inst)
}

// handleProposal is a non-leader replica receiving the Prepare message:
// gate on SafeNode, then cast a PrepareVote back to the leader (§4.1).
func (h *Handler) handleProposal(msg *message.ProposalMsg) {
	if h.table.BelowWindow(msg.Header.TxnID) {
		configs.Warn(false, "worker: proposal below checkpoint window dropped")
		return
	}
	inst := h.sched.Instance(msg.Header.InstanceID)
	if !inst.SafeToVote(msg.HighQC) {
		configs.Warn(false, fmt.Sprintf("worker: unsafe proposal for txn %d rejected", msg.Header.TxnID))
		return
	}
	inst.AdvanceView(msg.Header.View)
	inst.UpdatePreparedQC(msg.HighQC)

	tm := h.table.CreateIfNotExist(msg.Header.TxnID, inst.ID)
	tm.Acquire()
	tm.View = msg.Header.View
	tm.Hash = msg.BatchHash
	tm.ParentHash = msg.ParentHash
	tm.Requests = msg.Requests
	tm.Proposal = msg
	h.active[inst.ID] = tm
	early := tm.DrainInfoPrepare()
	tm.Release()

	h.timers[inst.ID].Arm()
	h.castVote(phasePrepare, tm, inst)

	for _, v := range early {
		h.handleVote(phasePrepare, v)
	}
}

// castVote signs and sends this replica's vote for the current phase of
// tm back to the instance's leader.
func (h *Handler) castVote(p phase, tm *txn.Manager, inst *instance.Instance) {
	leader := inst.Leader(h.cfgNC(), h.cfg.MultiInstances > 1)
	share := h.cr.ShareSign(h.signingBytes(p, tm.View, tm.Hash))
	vote := &message.VoteMsg{
		Header: message.Header{
			MsgType:    p.voteKind(),
			SrcNode:    h.self,
			DestHint:   leader,
			TxnID:      tm.TxnID,
			InstanceID: tm.InstanceID,
			View:       tm.View,
		},
		BatchHash: tm.Hash,
		Share:     share,
	}
	if leader == h.self {
		h.handleVote(p, vote)
		return
	}
	h.send(leader, p.voteKind(), vote)
}

// handleVote is the leader-side vote-accounting path: a vote arriving
// before its TM has a proposal is buffered; prepare votes are replayed
// once the proposal lands, later-phase votes once the Prepare QC lands
// (§4.1 "Early-arrival handling").
func (h *Handler) handleVote(p phase, v *message.VoteMsg) {
	if h.table.BelowWindow(v.Header.TxnID) {
		return
	}
	inst := h.sched.Instance(v.Header.InstanceID)
	tm := h.table.CreateIfNotExist(v.Header.TxnID, inst.ID)
	tm.Acquire()
	if tm.Proposal == nil {
		switch p {
		case phasePrepare:
			tm.BufferEarlyVote(&tm.InfoPrepare, v)
		default:
			tm.BufferEarlyVote(&tm.InfoCommit, v)
		}
		tm.Release()
		return
	}
	if !h.cr.VerifyShare(v.Header.SrcNode, h.signingBytes(p, tm.View, tm.Hash), v.Share) {
		tm.Release()
		configs.Warn(false, fmt.Sprintf("worker: invalid share from node %d dropped", v.Header.SrcNode))
		return
	}
	votes := h.votesFor(tm, p)
	tm.Release()

	ready, dup := votes.Add(v.Header.SrcNode, v.Share)
	if dup || !ready {
		return
	}
	h.formAndBroadcastQC(p, tm, inst, votes)
}

// formAndBroadcastQC aggregates the phase's collected shares into a QC
// and broadcasts it as the next phase's message (§4.1 "QC formation").
func (h *Handler) formAndBroadcastQC(p phase, tm *txn.Manager, inst *instance.Instance, votes *txn.VoteSet) {
	shares := votes.Shares()
	if _, err := h.cr.Combine(shares); err != nil {
		configs.Warn(false, "worker: combine failed: "+err.Error())
		return
	}
	qc := &message.QC{
		Type:      p.qcType(),
		View:      tm.View,
		Height:    tm.TxnID,
		BatchHash: tm.Hash[:],
		Shares:    shares,
	}

	tm.Acquire()
	switch p {
	case phasePrepare:
		tm.SetPrepared()
		tm.PreparedQC = qc
	case phasePreCommit:
		tm.SetPreCommitted()
		tm.PreCommittedQC = qc
	case phaseCommit:
		tm.SetCommitted()
		tm.CommittedQC = qc
	}
	tm.Release()

	broadcastMsg := &message.QCBroadcastMsg{
		Header: message.Header{
			MsgType:    p.broadcastKind(),
			SrcNode:    h.self,
			TxnID:      tm.TxnID,
			InstanceID: tm.InstanceID,
			View:       tm.View,
		},
		Cert: qc,
	}
	h.broadcast(p.broadcastKind(), broadcastMsg)

	// Loopback/network broadcast never delivers to self, so the leader
	// processes its own QC the same way a follower processes one
	// arriving over the wire — this is what casts the leader's own
	// next-phase vote and keeps quorum symmetric across all replicas.
	h.handleQCBroadcast(p, broadcastMsg)
}

// handleQCBroadcast is every replica (including the leader, for
// uniformity) receiving the leader's aggregated QC: verify it, update
// preparedQC/lockedQC as the phase demands, then vote for the next
// phase (§4.1, §4.2).
func (h *Handler) handleQCBroadcast(p phase, msg *message.QCBroadcastMsg) {
	if h.table.BelowWindow(msg.Header.TxnID) {
		return
	}
	// The ed25519 stand-in verifies each share rather than a single
	// combined group signature; the QC is valid only if at least a
	// quorum of its shares verify.
	signing := msg.Cert.SigningBytes()
	valid := uint64(0)
	for id, share := range msg.Cert.Shares {
		if h.cr.VerifyShare(id, signing, share) {
			valid++
		}
	}
	if valid < h.cfg.Quorum() {
		configs.Warn(false, "worker: QC with insufficient valid shares rejected")
		return
	}

	inst := h.sched.Instance(msg.Header.InstanceID)
	tm, ok := h.table.Get(msg.Header.TxnID)
	if !ok {
		return
	}
	tm.Acquire()
	sameBatch := bytes.Equal(msg.Cert.BatchHash, tm.Hash[:])
	tm.Release()
	if !sameBatch {
		configs.Warn(false, "worker: QC for a different batch hash dropped")
		return
	}

	switch p {
	case phasePrepare:
		inst.UpdatePreparedQC(msg.Cert)
		tm.Acquire()
		tm.PreparedQC = msg.Cert
		early := tm.DrainInfoCommit()
		tm.Release()
		h.castVote(phasePreCommit, tm, inst)
		for _, v := range early {
			if v.Header.MsgType == configs.CommitVote {
				h.handleVote(phaseCommit, v)
			} else {
				h.handleVote(phasePreCommit, v)
			}
		}
	case phasePreCommit:
		inst.UpdateLockedQC(msg.Cert)
		tm.Acquire()
		tm.PreCommittedQC = msg.Cert
		tm.Release()
		h.castVote(phaseCommit, tm, inst)
	case phaseCommit:
		tm.Acquire()
		tm.CommittedQC = msg.Cert
		tm.Release()
		h.onDecided(tm, inst)
	}
	h.timers[inst.ID].Reset()
}

// onDecided runs on every replica, including the leader, once its
// Decide QC is in hand (formAndBroadcastQC self-delivers for the
// leader just as the network delivers for everyone else). SetCommitted's
// monotonicity (§3) makes a duplicate call harmless if this is ever
// reached twice for the same txn.
func (h *Handler) onDecided(tm *txn.Manager, inst *instance.Instance) {
	tm.Acquire()
	tm.SetCommitted()
	tm.Release()
	h.timers[inst.ID].Cancel()

	h.exec.Enqueue(&execute.CommittedBatch{
		Idx:        tm.TxnID,
		TxnID:      tm.TxnID,
		InstanceID: tm.InstanceID,
		View:       tm.View,
		Requests:   toExecRequests(tm.Requests),
	})

	if h.ckpt != nil && h.ckpt.ShouldCheckpoint(tm.TxnID+1) {
		digest := h.cr.Hash(tm.Hash[:])
		if h.ckpt.StartRound(tm.TxnID, digest, h.self) {
			h.broadcast(configs.Checkpoint, &message.CheckpointMsg{
				Header: message.Header{
					MsgType: configs.Checkpoint,
					SrcNode: h.self,
					TxnID:   tm.TxnID,
				},
				Idx:         tm.TxnID,
				StateDigest: digest,
			})
		}
	}
}

func (h *Handler) handleCheckpoint(msg *message.CheckpointMsg) {
	if h.ckpt == nil {
		return
	}
	h.ckpt.HandleVote(msg.Header.SrcNode, msg.Idx, msg.StateDigest)
}

// onViewTimeout is the view-change path of §4.2: a replica that hasn't
// observed decide progress in time sends its instance's highQC to the
// next live leader.
func (h *Handler) onViewTimeout(instanceID uint64) {
	inst := h.sched.Instance(instanceID)
	nextView := inst.View() + 1
	pvp := h.cfg.MultiInstances > 1
	next := h.sched.Faults().NextLiveLeader((nextView+instanceID)%h.cfgNC(), h.cfgNC())
	if !pvp {
		next = h.sched.Faults().NextLiveLeader(nextView%h.cfgNC(), h.cfgNC())
	}
	inst.AdvanceView(nextView)
	newViewMsg := &message.NewViewMsg{
		Header: message.Header{
			MsgType:    configs.NewView,
			SrcNode:    h.self,
			InstanceID: instanceID,
			View:       nextView,
		},
		HighQC: inst.PreparedQC(),
	}
	if next == h.self {
		// Send/Broadcast never deliver to self (same reasoning as
		// formAndBroadcastQC): the would-be new leader has to feed its
		// own NewView into the vote count directly.
		h.handleNewView(newViewMsg)
	} else {
		h.send(next, configs.NewView, newViewMsg)
	}
	h.timers[instanceID].Arm()
}

// handleNewView is the would-be new leader collecting NewView messages:
// once 2f+1 arrive for the same target view it adopts the highest highQC
// among them and re-proposes the in-flight batch under the new view, or
// just adopts the view if this instance never saw a batch yet (§4.2).
func (h *Handler) handleNewView(msg *message.NewViewMsg) {
	inst := h.sched.Instance(msg.Header.InstanceID)
	pvp := h.cfg.MultiInstances > 1
	if !inst.IsLeaderForView(h.self, msg.Header.View, h.cfgNC(), pvp) {
		return
	}
	if msg.Header.View < inst.View() {
		return
	}

	tm := h.active[inst.ID]
	if tm == nil {
		// Genesis case: no batch has ever been proposed on this
		// instance, so there's nothing to re-propose yet. Adopt the
		// view/highQC and wait for the next ClientBatch.
		inst.AdvanceView(msg.Header.View)
		inst.UpdatePreparedQC(msg.HighQC)
		return
	}

	tm.Acquire()
	votes := tm.ResetNewViewRound(msg.Header.View)
	tm.ConsiderNewViewQC(msg.HighQC)
	tm.Release()

	ready, dup := votes.Add(msg.Header.SrcNode, msg.HighQC.SigningBytes())
	if dup || !ready {
		return
	}

	tm.Acquire()
	tm.SetNewViewed()
	bestQC := tm.NewViewBestQC
	tm.Release()

	inst.AdvanceView(msg.Header.View)
	inst.UpdatePreparedQC(bestQC)

	if tm.Proposal == nil || tm.Committed {
		return
	}

	tm.Acquire()
	tm.View = msg.Header.View
	tm.Proposal.Header.View = msg.Header.View
	tm.Proposal.HighQC = bestQC
	proposal := tm.Proposal
	tm.Release()

	h.broadcast(configs.Prepare, proposal)
	h.timers[inst.ID].Arm()
	h.castVote(phasePrepare, tm, inst)
}

func (h *Handler) broadcast(kind string, v interface{}) {
	data, err := message.Encode(kind, v)
	configs.CheckError(err)
	configs.CheckError(h.tp.Broadcast(data))
}

func (h *Handler) send(dest uint64, kind string, v interface{}) {
	data, err := message.Encode(kind, v)
	configs.CheckError(err)
	configs.CheckError(h.tp.Send(dest, data))
}

func (h *Handler) cfgNC() uint64 { return h.cfg.NodeCount }

func bytesTo32(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}

func toExecRequests(reqs []message.Request) []execute.Request {
	out := make([]execute.Request, len(reqs))
	for i, r := range reqs {
		out[i] = execute.Request{ClientID: r.ClientID, SeqNo: r.SeqNo, Payload: r.Payload}
	}
	return out
}

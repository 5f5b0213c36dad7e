// Package message defines the wire-stable protocol messages of §6: the
// common header, the batch-carrying and QC-carrying message bodies, and
// the QC's own canonical byte encoding.
package message

import "hotstuff/configs"

// Header is the common envelope every protocol message carries.
type Header struct {
	MsgType    string
	SrcNode    uint64
	DestHint   uint64
	TxnID      uint64
	InstanceID uint64
	View       uint64
	Signature  []byte
}

// Request is one client operation inside a batch.
type Request struct {
	ClientID uint64
	SeqNo    uint64
	Payload  []byte
}

// ClientBatchMsg is the client's submission: B requests packed together
// and sent to the believed-current leader (§4.6).
type ClientBatchMsg struct {
	Header   Header
	Requests []Request
}

// ClientResponseMsg is accepted by the client once f+1 identical copies
// arrive for the same txn_id (§4.6).
type ClientResponseMsg struct {
	Header  Header
	Results [][]byte
}

// ProposalMsg is the leader's Prepare/Proposal broadcast: a batch plus
// the highQC justifying it.
type ProposalMsg struct {
	Header     Header
	BatchHash  [32]byte
	Requests   []Request
	ParentHash [32]byte
	HighQC     *QC
}

// VoteMsg covers PrepareVote/PreCommitVote/CommitVote: a single threshold
// share over (phase, view, batch_hash).
type VoteMsg struct {
	Header    Header
	BatchHash [32]byte
	Share     []byte
}

// QCBroadcastMsg covers PreCommit/Commit/Decide: the leader rebroadcasts
// the QC it just formed.
type QCBroadcastMsg struct {
	Header Header
	Cert   *QC
}

// NewViewMsg carries a replica's highest-view QC to the new leader on
// timer expiry (§4.2).
type NewViewMsg struct {
	Header Header
	HighQC *QC
}

// CheckpointMsg is broadcast every TxnPerCheckpoint committed batches
// (§4.5).
type CheckpointMsg struct {
	Header       Header
	Idx          uint64
	StateDigest  [32]byte
}

// ExecuteNotifyMsg is an internal signal from the execute thread back to
// a worker (e.g. to drive the output thread), never sent over the wire
// to another replica.
type ExecuteNotifyMsg struct {
	Header Header
	Idx    uint64
}

func canonicalBatchBytes(reqs []Request) []byte {
	buf := make([]byte, 0, 64*len(reqs))
	for _, r := range reqs {
		buf = append(buf, byte(r.ClientID>>56), byte(r.ClientID>>48), byte(r.ClientID>>40), byte(r.ClientID>>32),
			byte(r.ClientID>>24), byte(r.ClientID>>16), byte(r.ClientID>>8), byte(r.ClientID))
		buf = append(buf, byte(r.SeqNo>>56), byte(r.SeqNo>>48), byte(r.SeqNo>>40), byte(r.SeqNo>>32),
			byte(r.SeqNo>>24), byte(r.SeqNo>>16), byte(r.SeqNo>>8), byte(r.SeqNo))
		buf = append(buf, r.Payload...)
	}
	return buf
}

// HashBatch computes the canonical 256-bit hash over a batch's
// transactions (§3 "Batch"). h must be the replica's Crypto.Hash.
func HashBatch(h func([]byte) [32]byte, reqs []Request) [32]byte {
	configs.Assert(h != nil, "HashBatch requires a hash function")
	return h(canonicalBatchBytes(reqs))
}

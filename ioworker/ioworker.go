// Package ioworker implements the input and output threads of §2/§5:
// input drains the Transport, decodes wire envelopes, and routes them
// through the work-queue dispatcher; output turns executed batches back
// into ClientResponses and sends them out over the Transport.
package ioworker

import (
	"context"

	"hotstuff/configs"
	"hotstuff/execute"
	"hotstuff/message"
	"hotstuff/transport"
	"hotstuff/workqueue"
)

// InputThread is the single reader pulling wire bytes off the Transport
// and handing decoded messages to the dispatcher (§5 "Thread roles:
// input[1]").
type InputThread struct {
	tp   transport.Transport
	disp *workqueue.Dispatcher
}

func NewInputThread(tp transport.Transport, disp *workqueue.Dispatcher) *InputThread {
	return &InputThread{tp: tp, disp: disp}
}

func (t *InputThread) Run(ctx context.Context) {
	for {
		envelopes, err := t.tp.Recv(ctx)
		if err != nil {
			configs.Warn(false, "ioworker: recv error: "+err.Error())
			continue
		}
		if envelopes == nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		for _, env := range envelopes {
			t.decodeAndRoute(env)
		}
	}
}

func (t *InputThread) decodeAndRoute(env transport.Envelope) {
	e, err := message.DecodeEnvelope(env.Payload)
	if err != nil {
		configs.Warn(false, "ioworker: malformed envelope dropped")
		return
	}
	item, ok := decode(e)
	if !ok {
		return
	}
	t.disp.Route(item)
}

// highPriorityKinds are drained ahead of fresh proposals/client batches
// so in-flight phases of existing batches always make progress first
// (§2 "Work Queue").
var highPriorityKinds = map[string]bool{
	configs.PrepareVote:   true,
	configs.PreCommit:     true,
	configs.PreCommitVote: true,
	configs.Commit:        true,
	configs.CommitVote:    true,
	configs.Decide:        true,
	configs.NewView:       true,
}

func decode(e *message.Envelope) (workqueue.WorkItem, bool) {
	item := workqueue.WorkItem{Kind: e.Kind, HighPriority: highPriorityKinds[e.Kind]}
	switch e.Kind {
	case configs.ClientBatch:
		var m message.ClientBatchMsg
		if message.Decode(e.Body, &m) != nil {
			return item, false
		}
		item.InstanceID = m.Header.InstanceID
		item.Payload = &m
	case configs.Prepare:
		var m message.ProposalMsg
		if message.Decode(e.Body, &m) != nil {
			return item, false
		}
		item.InstanceID = m.Header.InstanceID
		item.Payload = &m
	case configs.PrepareVote, configs.PreCommitVote, configs.CommitVote:
		var m message.VoteMsg
		if message.Decode(e.Body, &m) != nil {
			return item, false
		}
		item.InstanceID = m.Header.InstanceID
		item.Payload = &m
	case configs.PreCommit, configs.Commit, configs.Decide:
		var m message.QCBroadcastMsg
		if message.Decode(e.Body, &m) != nil {
			return item, false
		}
		item.InstanceID = m.Header.InstanceID
		item.Payload = &m
	case configs.NewView:
		var m message.NewViewMsg
		if message.Decode(e.Body, &m) != nil {
			return item, false
		}
		item.InstanceID = m.Header.InstanceID
		item.Payload = &m
	case configs.Checkpoint:
		var m message.CheckpointMsg
		if message.Decode(e.Body, &m) != nil {
			return item, false
		}
		item.Payload = &m
	default:
		configs.Warn(false, "ioworker: unknown wire kind "+e.Kind)
		return item, false
	}
	return item, true
}

// OutputThread turns an executed batch's result into a ClientResponse
// and dispatches it back to every client that contributed a request in
// the batch (§4.6, §5 "Thread roles: output[1..]").
type OutputThread struct {
	tp   transport.Transport
	self uint64
	ch   chan outgoing
}

type outgoing struct {
	batch  *execute.CommittedBatch
	result []byte
}

func NewOutputThread(tp transport.Transport, self uint64) *OutputThread {
	return &OutputThread{tp: tp, self: self, ch: make(chan outgoing, 4096)}
}

// Notify is the execute thread's ResultHandler: it hands the executed
// batch to the output goroutine over a 4096-entry buffered channel, so
// the execute loop does no network I/O itself; it blocks only while
// that buffer is full.
func (t *OutputThread) Notify(batch *execute.CommittedBatch, result []byte) {
	t.ch <- outgoing{batch: batch, result: result}
}

func (t *OutputThread) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-t.ch:
			t.send(out)
		}
	}
}

func (t *OutputThread) send(out outgoing) {
	byClient := make(map[uint64][]byte)
	for _, r := range out.batch.Requests {
		byClient[r.ClientID] = out.result
	}
	for clientID := range byClient {
		resp := &message.ClientResponseMsg{
			Header: message.Header{
				MsgType: configs.ClientResp,
				SrcNode: t.self,
				TxnID:   firstSeqFor(out.batch.Requests, clientID),
			},
			Results: [][]byte{out.result},
		}
		data, err := message.Encode(configs.ClientResp, resp)
		if err != nil {
			configs.Warn(false, "ioworker: encode response failed: "+err.Error())
			continue
		}
		if err := t.tp.Send(clientID, data); err != nil {
			configs.Warn(false, "ioworker: send response failed: "+err.Error())
		}
	}
}

func firstSeqFor(reqs []execute.Request, clientID uint64) uint64 {
	for _, r := range reqs {
		if r.ClientID == clientID {
			return r.SeqNo
		}
	}
	return 0
}

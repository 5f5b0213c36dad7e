// Package proposal implements the optional dedicated proposal thread of
// §4.3/§4.7: in PVP mode, a thread separate from the per-instance
// workers periodically proposes new batches for every instance this
// replica leads, so proposing never competes with vote-processing for a
// worker's attention.
package proposal

import (
	"context"
	"time"

	"hotstuff/configs"
	"hotstuff/instance"
	"hotstuff/message"
	"hotstuff/workqueue"
)

// Source supplies the next batch of requests to propose for an
// instance, or ok=false if there is nothing pending (e.g. the client
// batch queue is empty).
type Source interface {
	NextBatch(instanceID uint64) (reqs []message.Request, ok bool)
}

// Thread is the dedicated proposal thread. It only runs when
// cfg.EnableProposalThread is set and a Source is supplied (§4.3
// "Proposal Thread (optional)"), whatever the instance count; otherwise
// the worker proposes inline from ClientBatch messages.
type Thread struct {
	cfg    *configs.ConsensusConfig
	sched  *instance.Scheduler
	src    Source
	disp   *workqueue.Dispatcher
	period time.Duration
}

func NewThread(cfg *configs.ConsensusConfig, sched *instance.Scheduler, src Source, disp *workqueue.Dispatcher, period time.Duration) *Thread {
	return &Thread{cfg: cfg, sched: sched, src: src, disp: disp, period: period}
}

// Run polls every instance this replica leads, once per period, and
// injects a synthetic ClientBatch work item for the worker handling that
// instance -- the same entry point a real client submission would use,
// so the worker-side leader-proposal logic needs no PVP-specific branch.
func (t *Thread) Run(ctx context.Context) {
	ticker := time.NewTicker(t.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Thread) tick() {
	pvp := t.cfg.MultiInstances > 1
	nodeID := t.cfg.NodeID
	nodeCount := t.cfg.NodeCount
	for k := uint64(0); k < t.sched.InstanceCount(); k++ {
		inst := t.sched.Instance(k)
		if !inst.IsLeader(nodeID, nodeCount, pvp) {
			continue
		}
		reqs, ok := t.src.NextBatch(k)
		if !ok || len(reqs) == 0 {
			continue
		}
		batch := &message.ClientBatchMsg{
			Header: message.Header{
				MsgType:    configs.ClientBatch,
				SrcNode:    nodeID,
				InstanceID: k,
			},
			Requests: reqs,
		}
		t.disp.Route(workqueue.WorkItem{
			Kind:       configs.ClientBatch,
			InstanceID: k,
			Payload:    batch,
		})
	}
}

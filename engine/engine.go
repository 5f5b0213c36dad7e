// Package engine wires every component into one running replica: a
// single Engine value constructed at startup and shared by
// every worker/input/output/execute/checkpoint thread (§9 design notes).
package engine

import (
	"context"
	"time"

	"hotstuff/checkpoint"
	"hotstuff/configs"
	"hotstuff/crypto"
	"hotstuff/execute"
	"hotstuff/instance"
	"hotstuff/ioworker"
	"hotstuff/proposal"
	"hotstuff/transport"
	"hotstuff/txn"
	"hotstuff/worker"
	"hotstuff/workqueue"
)

// Engine owns every long-lived component of one replica process.
type Engine struct {
	cfg   *configs.ConsensusConfig
	sched *instance.Scheduler
	table *txn.Table
	disp  *workqueue.Dispatcher
	exec  *execute.Thread
	ckpt  *checkpoint.Manager
	tp    transport.Transport

	in      *ioworker.InputThread
	out     *ioworker.OutputThread
	prop    *proposal.Thread
	workers []*worker.Handler
}

// Option customizes construction; most replicas only need New's
// defaults, but tests substitute a loopback transport and memdb.
type Option func(*buildState)

type buildState struct {
	proposalSource proposal.Source
	checkpointDir  string
}

func WithProposalSource(src proposal.Source) Option {
	return func(b *buildState) { b.proposalSource = src }
}

func WithCheckpointDir(dir string) Option {
	return func(b *buildState) { b.checkpointDir = dir }
}

// New assembles one replica's engine: scheduler, transaction table,
// dispatcher, execute thread, checkpoint manager, and one worker.Handler
// per worker thread, all sharing the same cfg/crypto/transport/database.
func New(cfg *configs.ConsensusConfig, cr crypto.Crypto, tp transport.Transport, db execute.Database, opts ...Option) (*Engine, error) {
	b := &buildState{checkpointDir: "./checkpoint-data"}
	for _, o := range opts {
		o(b)
	}

	sched := instance.NewScheduler(cfg)
	table := txn.NewTable(cfg.Faulty())
	disp := workqueue.NewDispatcher(sched, cfg.MultiThreads)
	out := ioworker.NewOutputThread(tp, cfg.NodeID)
	execThread := execute.NewThread(db, out.Notify)

	var ckptMgr *checkpoint.Manager
	var err error
	ckptMgr, err = checkpoint.NewManager(cfg, table, b.checkpointDir, nil)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:   cfg,
		sched: sched,
		table: table,
		disp:  disp,
		exec:  execThread,
		ckpt:  ckptMgr,
		tp:    tp,
		in:    ioworker.NewInputThread(tp, disp),
		out:   out,
	}

	e.workers = make([]*worker.Handler, disp.WorkerCount())
	for i := range e.workers {
		e.workers[i] = worker.New(cfg, sched, table, cr, tp, execThread, ckptMgr)
	}

	if cfg.EnableProposalThread && b.proposalSource != nil {
		e.prop = proposal.NewThread(cfg, sched, b.proposalSource, disp, 20*time.Millisecond)
	}

	return e, nil
}

// Run starts every thread and blocks until ctx is cancelled, then drains
// each component's shutdown path (§5 "Cancellation/timeouts": every
// blocked thread is woken, never killed mid-critical-section).
func (e *Engine) Run(ctx context.Context) {
	go e.in.Run(ctx)
	go e.out.Run(ctx)
	go e.exec.Run(ctx)
	if e.prop != nil {
		go e.prop.Run(ctx)
	}
	for i, w := range e.workers {
		workerID := uint64(i)
		handler := w
		go e.runWorker(ctx, workerID, handler)
	}
	<-ctx.Done()
	e.disp.Shutdown()
	e.exec.WakeShutdown()
}

func (e *Engine) runWorker(ctx context.Context, workerID uint64, h *worker.Handler) {
	q := e.disp.QueueFor(workerID)
	for {
		item, ok := q.Pop(ctx)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		h.Dispatch(item)
	}
}

func (e *Engine) Scheduler() *instance.Scheduler { return e.sched }
func (e *Engine) Table() *txn.Table              { return e.table }
func (e *Engine) Dispatcher() *workqueue.Dispatcher { return e.disp }
func (e *Engine) ExecuteThread() *execute.Thread { return e.exec }

func (e *Engine) Close() error {
	if e.ckpt != nil {
		_ = e.ckpt.Close(context.Background())
	}
	return e.tp.Close()
}

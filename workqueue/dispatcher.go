package workqueue

import "hotstuff/instance"

// Dispatcher owns one Queue per worker thread and routes an incoming
// item to the queue of the worker that owns its instance_id, via the
// scheduler's RouteWorker (§4.3, §4.7).
type Dispatcher struct {
	queues []*Queue
	sched  *instance.Scheduler
}

func NewDispatcher(sched *instance.Scheduler, workerCount int) *Dispatcher {
	if workerCount < 1 {
		workerCount = 1
	}
	d := &Dispatcher{queues: make([]*Queue, workerCount), sched: sched}
	for i := range d.queues {
		d.queues[i] = NewQueue()
	}
	return d
}

func (d *Dispatcher) QueueFor(workerID uint64) *Queue {
	return d.queues[workerID%uint64(len(d.queues))]
}

// Route pushes item onto the queue owned by the worker servicing
// item.InstanceID.
func (d *Dispatcher) Route(item WorkItem) {
	worker := d.sched.RouteWorker(item.InstanceID)
	d.QueueFor(worker).Push(item)
}

func (d *Dispatcher) WorkerCount() int { return len(d.queues) }

// Shutdown wakes every parked worker so each can observe context
// cancellation and exit.
func (d *Dispatcher) Shutdown() {
	for _, q := range d.queues {
		q.WakeShutdown()
	}
}

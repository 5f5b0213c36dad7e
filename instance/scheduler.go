package instance

import (
	"sync"

	"hotstuff/configs"
)

// Scheduler is the multi-instance scheduler of §4.3: it owns the array
// of Instances, assigns global sequence indices, and routes an incoming
// message to the worker responsible for its instance_id.
//
// The spec describes index assignment as a single mutex-protected
// next_idx counter shared by all instances, incremented by I on every
// acceptance so that "instance k's batches carry idx ≡ k (mod I)". A
// single shared counter only actually produces that residue invariant
// if callers already serialize by instance in lockstep, which the
// worker-per-instance design does not do. This implementation instead
// gives instance k its own counter seeded at k and incremented by I
// (DESIGN.md records this as a deliberate
// re-derivation rather than a literal port) -- it produces the exact
// same residue invariant without requiring cross-instance coordination.
type Scheduler struct {
	cfg       *configs.ConsensusConfig
	instances []*Instance
	faults    *FaultManager

	mu      []sync.Mutex
	nextIdx []uint64
}

func NewScheduler(cfg *configs.ConsensusConfig) *Scheduler {
	n := cfg.MultiInstances
	if n < 1 {
		n = 1
	}
	s := &Scheduler{
		cfg:       cfg,
		instances: make([]*Instance, n),
		faults:    NewFaultManager(),
		mu:        make([]sync.Mutex, n),
		nextIdx:   make([]uint64, n),
	}
	for k := 0; k < n; k++ {
		s.instances[k] = New(uint64(k))
		s.nextIdx[k] = uint64(k)
	}
	return s
}

func (s *Scheduler) InstanceCount() uint64 { return uint64(len(s.instances)) }

func (s *Scheduler) Instance(k uint64) *Instance { return s.instances[k%uint64(len(s.instances))] }

func (s *Scheduler) Faults() *FaultManager { return s.faults }

// AssignIndex hands out the next global sequence index owned by instance
// k (§3 "Global sequence index").
func (s *Scheduler) AssignIndex(k uint64) uint64 {
	k = k % uint64(len(s.instances))
	s.mu[k].Lock()
	defer s.mu[k].Unlock()
	idx := s.nextIdx[k]
	s.nextIdx[k] += uint64(len(s.instances))
	return idx
}

// OwnerInstance recovers which instance owns a given global index, the
// inverse of AssignIndex's residue relationship.
func (s *Scheduler) OwnerInstance(idx uint64) uint64 {
	return idx % uint64(len(s.instances))
}

// RouteWorker maps an instance_id to the worker thread that services it
// (§4.3 "a work queue routes each incoming message to the queue of the
// worker owning its instance_id"). With MultiThreads < MultiInstances,
// several instances share a worker.
func (s *Scheduler) RouteWorker(instanceID uint64) uint64 {
	threads := uint64(s.cfg.MultiThreads)
	if threads < 1 {
		threads = 1
	}
	return instanceID % threads
}

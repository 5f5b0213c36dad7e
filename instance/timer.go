package instance

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
)

// ViewTimer is the per-instance view-change timer of §4.2/§5: armed on
// entering a view or on sending a vote awaiting a response, reset on
// valid progress, and calling its fire callback on expiry.
type ViewTimer struct {
	mu       sync.Mutex
	timer    *time.Timer
	duration time.Duration
	fire     func()
}

func NewViewTimer(duration time.Duration, fire func()) *ViewTimer {
	return &ViewTimer{duration: duration, fire: fire}
}

// Arm (re)starts the timer, cancelling any timer already running. Per §5
// "Cancellation/timeouts", a replica never spin-waits: this always goes
// through time.AfterFunc.
func (t *ViewTimer) Arm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.duration, t.fire)
}

// Reset re-arms on valid progress (e.g. a higher-phase QC arrived) without
// treating it as an expiry.
func (t *ViewTimer) Reset() {
	t.Arm()
}

// Cancel stops the timer without rearming it (used on decide, where no
// further response is awaited for this view).
func (t *ViewTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
}

// FaultManager tracks replicas detected as crashed or Byzantine
// (§4.2 "stopped_nodes"). NextLiveLeader, which picks the NewView
// target, is the only part the worker uses; quorum counting does not
// consult the set, and no worker code path calls MarkStopped.
type FaultManager struct {
	mu      sync.Mutex
	stopped mapset.Set
}

func NewFaultManager() *FaultManager {
	return &FaultManager{stopped: mapset.NewSet()}
}

func (f *FaultManager) MarkStopped(nodeID uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped.Add(nodeID)
}

func (f *FaultManager) IsStopped(nodeID uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped.Contains(nodeID)
}

// NextLiveLeader walks the rotation starting at start (inclusive) and
// returns the first node not in stopped_nodes, skipping known-failed
// leaders as §4.2 requires.
func (f *FaultManager) NextLiveLeader(start, nodeCount uint64) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := uint64(0); i < nodeCount; i++ {
		cand := (start + i) % nodeCount
		if !f.stopped.Contains(cand) {
			return cand
		}
	}
	return start
}

func (f *FaultManager) StoppedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped.Cardinality()
}

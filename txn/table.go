package txn

import (
	"sync"

	"hotstuff/configs"
)

// Table is the concurrent map from txn_id -> *Manager described in §2
// ("Transaction Table") and §5 ("txn_table: concurrent map keyed by
// txn_id; get/insert/remove are atomic"). Reclaimed Managers are kept on
// a free-list so repeated checkpoint/GC cycles don't thrash the
// allocator, mirroring the teacher's pooled-allocation discipline
// (§9 "Shared pointers + manual pool recycling").
type Table struct {
	m    sync.Map // txn_id -> *Manager
	pool sync.Pool

	mu            sync.Mutex
	lastDeletedTM uint64
	deleted       bool
	f             uint64
}

func NewTable(f uint64) *Table {
	t := &Table{f: f}
	t.pool.New = func() interface{} { return &Manager{} }
	return t
}

func (t *Table) newManager(txnID, instanceID uint64) *Manager {
	m := t.pool.Get().(*Manager)
	*m = Manager{
		TxnID:          txnID,
		InstanceID:     instanceID,
		PrepareVotes:   NewVoteSet(t.f),
		PreCommitVotes: NewVoteSet(t.f),
		CommitVotes:    NewVoteSet(t.f),
		NewViewVotes:   NewVoteSet(t.f),
	}
	return m
}

// CreateIfNotExist returns the existing TM for txnID, or lazily
// allocates one (§3 "Lifecycle of a TM": created on first reference,
// either proposal or first vote arriving).
func (t *Table) CreateIfNotExist(txnID, instanceID uint64) *Manager {
	if existing, ok := t.m.Load(txnID); ok {
		return existing.(*Manager)
	}
	fresh := t.newManager(txnID, instanceID)
	actual, loaded := t.m.LoadOrStore(txnID, fresh)
	if loaded {
		t.pool.Put(fresh)
		return actual.(*Manager)
	}
	return fresh
}

func (t *Table) Get(txnID uint64) (*Manager, bool) {
	v, ok := t.m.Load(txnID)
	if !ok {
		return nil, false
	}
	return v.(*Manager), true
}

// BelowWindow reports whether txnID has already been garbage collected,
// the "Out-of-window message" drop case of §7.
func (t *Table) BelowWindow(txnID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deleted && txnID <= t.lastDeletedTM
}

// DeleteUpTo destroys every TM with txn_id <= idx and advances
// last_deleted_tm, implementing the checkpoint GC sweep of §4.5.
func (t *Table) DeleteUpTo(idx uint64) {
	t.m.Range(func(key, value interface{}) bool {
		id := key.(uint64)
		if id <= idx {
			m := value.(*Manager)
			t.m.Delete(id)
			t.pool.Put(m)
		}
		return true
	})
	t.mu.Lock()
	t.deleted = true
	if idx > t.lastDeletedTM {
		t.lastDeletedTM = idx
	}
	t.mu.Unlock()
	configs.TPrintf("checkpoint GC: txn table cleared up to idx %d", idx)
}

func (t *Table) LastDeletedTM() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastDeletedTM
}

// Package memdb is the default, dependency-free execute.Database used
// by tests and local demos: an in-memory key/value table keyed by
// client id and sequence number.
package memdb

import (
	"fmt"
	"sync"

	"hotstuff/crypto"
	"hotstuff/execute"
)

type MemDB struct {
	mu    sync.Mutex
	table map[string][]byte
	hash  func([]byte) [32]byte
}

func New() *MemDB {
	return &MemDB{table: make(map[string][]byte), hash: (&crypto.Ed25519Crypto{}).Hash}
}

// Apply applies every request in the batch in order and returns the
// hash of the concatenated applied payloads as the batch's result,
// standing in for whatever real application output a production
// Database would return (§1 treats Database as external).
func (d *MemDB) Apply(txnID uint64, reqs []execute.Request) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var applied []byte
	for _, r := range reqs {
		key := fmt.Sprintf("%d:%d", r.ClientID, r.SeqNo)
		d.table[key] = r.Payload
		applied = append(applied, r.Payload...)
	}
	sum := d.hash(applied)
	return sum[:], nil
}

func (d *MemDB) Get(clientID, seqNo uint64) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.table[fmt.Sprintf("%d:%d", clientID, seqNo)]
	return v, ok
}

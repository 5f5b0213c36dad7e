// Package consensus holds the protocol-level predicates that are shared
// across every instance: SafeNode and QC freshness (§4.1).
package consensus

import (
	"bytes"

	"hotstuff/message"
)

// SafeNode implements §4.1's safety predicate. A replica must only vote
// when this holds; it is what prevents equivocation across conflicting
// locked branches while still allowing the instance to make progress
// after a corrupted/stale lock (§4.2 "Liveness rule").
func SafeNode(highQC, lockedQC *message.QC) bool {
	if lockedQC == nil || lockedQC.Genesis {
		return true
	}
	if highQC.View > lockedQC.View {
		return true
	}
	if highQC.View == lockedQC.View && bytes.Equal(highQC.BatchHash, lockedQC.BatchHash) {
		return true
	}
	return false
}

// AcceptQC is the freshness gate behind setPreparedQC/setLockedQC (§4.1
// "QC freshness"): a candidate replaces the current QC only if its view
// is strictly higher, or the current one is still genesis. Earlier QCs
// are dropped, never used to downgrade the held QC.
func AcceptQC(current, candidate *message.QC) (*message.QC, bool) {
	if candidate == nil {
		return current, false
	}
	if current == nil || current.Genesis || candidate.View > current.View {
		return candidate, true
	}
	return current, false
}

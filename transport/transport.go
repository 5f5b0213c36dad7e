// Package transport is the external collaborator of §1/§6: wire
// send/recv is a black box to the consensus core. This package defines
// that boundary and ships two concrete implementations (loopback, for
// tests; TCP, for a runnable replica) so the engine runs end to end.
package transport

import "context"

// Transport is the black-box contract of §6: reliable in-order
// per-connection delivery; out-of-order and loss across connections is
// handled at the consensus layer, not here.
type Transport interface {
	// Send dispatches data to dest. Errors are local to this call; the
	// consensus layer tolerates lost sends via quorum redundancy and the
	// view-change path (§5 "Transport-level retry is out of scope").
	Send(dest uint64, data []byte) error
	// Broadcast sends data to every other known replica.
	Broadcast(data []byte) error
	// Recv blocks for at most one message batch or until ctx is done. A
	// nil, nil return means "idle, resume" (§6 CLI/environment: "return
	// value None indicates idle, resume").
	Recv(ctx context.Context) ([]Envelope, error)
	Close() error
}

// Envelope pairs a received payload with the sender it arrived from.
type Envelope struct {
	From    uint64
	Payload []byte
}

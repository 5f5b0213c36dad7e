// Package crypto is the boundary the consensus core calls through for
// every signature, share and hash operation (§6 "Crypto contract").
// The core never touches a private key or a curve directly; it only
// ever holds a Crypto value.
package crypto

// Crypto is the external collaborator referenced, never implemented
// inline, by the consensus core: sign/verify, threshold shares, hash.
type Crypto interface {
	// Sign produces a full signature over msg under this replica's key.
	Sign(msg []byte) []byte
	// Verify checks a full signature from nodeID over msg.
	Verify(nodeID uint64, msg []byte, sig []byte) bool

	// ShareSign produces this replica's threshold share over msg.
	ShareSign(msg []byte) []byte
	// VerifyShare checks a single threshold share from nodeID.
	VerifyShare(nodeID uint64, msg []byte, share []byte) bool
	// Combine aggregates >= 2f+1 shares into a group signature.
	Combine(shares map[uint64][]byte) ([]byte, error)
	// VerifyGroup checks a combined group signature over msg.
	VerifyGroup(msg []byte, groupSig []byte) bool

	// Hash is the canonical SHA-256 used for batch hashes and QC digests.
	Hash(data []byte) [32]byte
}

// ShareLen is the wire width of one threshold share in the QC
// serialization of §6 ("share (72 bytes)"). The teacher's wire formats
// are all fixed-width per field; we follow the same discipline here.
const ShareLen = 72

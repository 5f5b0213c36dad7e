package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"errors"
)

// KeySet is the static, run-wide key material: every replica's public
// key plus this replica's own private key. Key exchange/distribution is
// out of scope (§1); this struct is the shape KEY_EXCHANGE bootstraps.
type KeySet struct {
	Self       uint64
	PrivateKey ed25519.PrivateKey
	PublicKeys map[uint64]ed25519.PublicKey
	Quorum     int // 2f+1, minimum distinct shares to combine.
}

// Ed25519Crypto is the concrete Crypto used when
// EnableThresholdSignatures is false, and is also the share-accumulation
// vehicle when it is true (see doc comment on Combine).
type Ed25519Crypto struct {
	keys *KeySet
}

func NewEd25519Crypto(keys *KeySet) *Ed25519Crypto {
	return &Ed25519Crypto{keys: keys}
}

func (c *Ed25519Crypto) Sign(msg []byte) []byte {
	return ed25519.Sign(c.keys.PrivateKey, msg)
}

func (c *Ed25519Crypto) Verify(nodeID uint64, msg []byte, sig []byte) bool {
	pub, ok := c.keys.PublicKeys[nodeID]
	if !ok {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// ShareSign produces a fixed-width 72-byte "share": 8 bytes of node id
// (so Combine can recover the signer without an out-of-band map) plus a
// 64-byte ed25519 signature. There is no real (n,t)-threshold signature
// scheme anywhere in the reference corpus this engine was grounded on
// (see DESIGN.md); a share here is deliberately just a tagged individual
// signature, and Combine/VerifyGroup implement a multisig-style stand-in
// rather than true threshold crypto. This keeps the wire shape of §6
// (share = 72 bytes) while being honest about what it certifies: a set
// of >= 2f+1 *individually verifiable* signatures, not a single
// constant-size aggregate.
func (c *Ed25519Crypto) ShareSign(msg []byte) []byte {
	sig := ed25519.Sign(c.keys.PrivateKey, msg)
	out := make([]byte, ShareLen)
	binary.BigEndian.PutUint64(out[:8], c.keys.Self)
	copy(out[8:], sig)
	return out
}

func (c *Ed25519Crypto) VerifyShare(nodeID uint64, msg []byte, share []byte) bool {
	if len(share) != ShareLen {
		return false
	}
	id := binary.BigEndian.Uint64(share[:8])
	if id != nodeID {
		return false
	}
	return c.Verify(nodeID, msg, share[8:])
}

// Combine concatenates the shares (each already individually verified by
// the caller via VerifyShare) into the group signature blob. It requires
// at least Quorum distinct node ids among the shares.
func (c *Ed25519Crypto) Combine(shares map[uint64][]byte) ([]byte, error) {
	if len(shares) < c.keys.Quorum {
		return nil, errors.New("crypto: insufficient shares to combine")
	}
	buf := new(bytes.Buffer)
	for id, share := range shares {
		if len(share) != ShareLen {
			return nil, errors.New("crypto: malformed share")
		}
		_ = id
		buf.Write(share)
	}
	return buf.Bytes(), nil
}

// VerifyGroup re-derives the per-signer shares from the combined blob and
// checks each one; it accepts iff at least Quorum distinct, valid shares
// are present, mirroring the "≥ 2f+1 distinct valid shares" predicate of
// §3.
func (c *Ed25519Crypto) VerifyGroup(msg []byte, groupSig []byte) bool {
	if len(groupSig)%ShareLen != 0 {
		return false
	}
	seen := make(map[uint64]bool)
	for off := 0; off < len(groupSig); off += ShareLen {
		share := groupSig[off : off+ShareLen]
		id := binary.BigEndian.Uint64(share[:8])
		if seen[id] {
			continue
		}
		if c.VerifyShare(id, msg, share) {
			seen[id] = true
		}
	}
	return len(seen) >= c.keys.Quorum
}

func (c *Ed25519Crypto) Hash(data []byte) [32]byte {
	return sha256.Sum256(data)
}

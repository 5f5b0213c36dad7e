package crypto

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
)

func threeNodeKeys(self uint64) map[uint64]*Ed25519Crypto {
	pubs := make(map[uint64]ed25519.PublicKey)
	privs := make(map[uint64]ed25519.PrivateKey)
	for id := uint64(0); id < 3; id++ {
		pub, priv, _ := ed25519.GenerateKey(nil)
		pubs[id] = pub
		privs[id] = priv
	}
	out := make(map[uint64]*Ed25519Crypto)
	for id := uint64(0); id < 3; id++ {
		out[id] = NewEd25519Crypto(&KeySet{Self: id, PrivateKey: privs[id], PublicKeys: pubs, Quorum: 2})
	}
	return out
}

func TestSignVerifyRoundTrip(t *testing.T) {
	nodes := threeNodeKeys(0)
	sig := nodes[0].Sign([]byte("hello"))
	assert.True(t, nodes[1].Verify(0, []byte("hello"), sig))
	assert.False(t, nodes[1].Verify(0, []byte("tampered"), sig))
}

func TestShareSignVerifyAndCombine(t *testing.T) {
	nodes := threeNodeKeys(0)
	msg := []byte("prepare:5:hash")
	shares := make(map[uint64][]byte)
	for id, n := range nodes {
		share := n.ShareSign(msg)
		assert.True(t, nodes[0].VerifyShare(id, msg, share))
		shares[id] = share
	}
	group, err := nodes[0].Combine(shares)
	assert.NoError(t, err)
	assert.True(t, nodes[0].VerifyGroup(msg, group))
}

func TestCombineFailsBelowQuorum(t *testing.T) {
	nodes := threeNodeKeys(0)
	msg := []byte("m")
	shares := map[uint64][]byte{0: nodes[0].ShareSign(msg)}
	_, err := nodes[0].Combine(shares)
	assert.Error(t, err)
}

func TestVerifyShareRejectsMismatchedNodeID(t *testing.T) {
	nodes := threeNodeKeys(0)
	msg := []byte("m")
	share := nodes[0].ShareSign(msg)
	assert.False(t, nodes[0].VerifyShare(1, msg, share))
}

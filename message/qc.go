package message

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
)

// QC is the Quorum Certificate of §3: the aggregate of >= 2f+1 matching
// votes certifying one phase of one batch in one instance.
type QC struct {
	Type       uint8
	Genesis    bool
	View       uint64
	ParentView uint64
	Height     uint64
	BatchHash  []byte
	ParentHash []byte

	HasGrandParent bool
	GrandView      uint64
	GrandHash      []byte

	// Shares maps node_id -> threshold share. nil/empty for a genesis QC.
	Shares map[uint64][]byte
}

// GenesisQC is the bootstrap QC every instance starts locked on: no
// replica has voted for it, and SafeNode treats it as vacuously safe
// (§4.1 SafeNode, third clause).
func GenesisQC(qcType uint8) *QC {
	return &QC{
		Type:       qcType,
		Genesis:    true,
		View:       0,
		ParentView: 0,
		Height:     0,
		BatchHash:  make([]byte, 32),
		ParentHash: make([]byte, 32),
		Shares:     map[uint64][]byte{},
	}
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func putLenPrefixed(buf *bytes.Buffer, data []byte) {
	putUint64(buf, uint64(len(data)))
	buf.Write(data)
}

func putBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

// Marshal produces the canonical wire encoding of §6:
//
//	type(u8) | genesis(u8) | view(u64) | parent_view(u64) | height(u64) |
//	batch_hash(len-prefixed) | parent_hash(len-prefixed) | grand_empty(u8) |
//	[grand_view(u64), grand_hash(len-prefixed)] |
//	map_len(u64), {node_id(u64), share(72 bytes)}...
//
// Shares are emitted in ascending node_id order so that
// Marshal(Unmarshal(Marshal(qc))) == Marshal(qc) (§8 round-trip property)
// regardless of Go's randomized map iteration order.
func (q *QC) Marshal() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(q.Type)
	putBool(buf, q.Genesis)
	putUint64(buf, q.View)
	putUint64(buf, q.ParentView)
	putUint64(buf, q.Height)
	putLenPrefixed(buf, q.BatchHash)
	putLenPrefixed(buf, q.ParentHash)
	if q.HasGrandParent {
		buf.WriteByte(0)
		putUint64(buf, q.GrandView)
		putLenPrefixed(buf, q.GrandHash)
	} else {
		buf.WriteByte(1)
	}
	ids := make([]uint64, 0, len(q.Shares))
	for id := range q.Shares {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	putUint64(buf, uint64(len(ids)))
	for _, id := range ids {
		putUint64(buf, id)
		buf.Write(q.Shares[id])
	}
	return buf.Bytes()
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) u64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, errors.New("qc: truncated u64")
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *byteReader) u8() (byte, error) {
	if r.pos+1 > len(r.buf) {
		return 0, errors.New("qc: truncated u8")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) lenPrefixed() ([]byte, error) {
	n, err := r.u64()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, errors.New("qc: truncated payload")
	}
	out := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, nil
}

func (r *byteReader) shareBytes(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, errors.New("qc: truncated share")
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

// shareWireLen must match crypto.ShareLen; duplicated as a constant here to
// keep the message package free of a dependency on crypto.
const shareWireLen = 72

// UnmarshalQC decodes the bytes Marshal produced.
func UnmarshalQC(data []byte) (*QC, error) {
	r := &byteReader{buf: data}
	q := &QC{}
	t, err := r.u8()
	if err != nil {
		return nil, err
	}
	q.Type = t
	g, err := r.u8()
	if err != nil {
		return nil, err
	}
	q.Genesis = g == 1
	if q.View, err = r.u64(); err != nil {
		return nil, err
	}
	if q.ParentView, err = r.u64(); err != nil {
		return nil, err
	}
	if q.Height, err = r.u64(); err != nil {
		return nil, err
	}
	if q.BatchHash, err = r.lenPrefixed(); err != nil {
		return nil, err
	}
	if q.ParentHash, err = r.lenPrefixed(); err != nil {
		return nil, err
	}
	grandEmpty, err := r.u8()
	if err != nil {
		return nil, err
	}
	if grandEmpty == 0 {
		q.HasGrandParent = true
		if q.GrandView, err = r.u64(); err != nil {
			return nil, err
		}
		if q.GrandHash, err = r.lenPrefixed(); err != nil {
			return nil, err
		}
	}
	n, err := r.u64()
	if err != nil {
		return nil, err
	}
	q.Shares = make(map[uint64][]byte, n)
	for i := uint64(0); i < n; i++ {
		id, err := r.u64()
		if err != nil {
			return nil, err
		}
		share, err := r.shareBytes(shareWireLen)
		if err != nil {
			return nil, err
		}
		cp := make([]byte, len(share))
		copy(cp, share)
		q.Shares[id] = cp
	}
	return q, nil
}

// SigningBytes is the payload the group signature / each share actually
// signs: (type, view, batch_hash), per §3's QC validity predicate.
func (q *QC) SigningBytes() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(q.Type)
	putUint64(buf, q.View)
	buf.Write(q.BatchHash)
	return buf.Bytes()
}

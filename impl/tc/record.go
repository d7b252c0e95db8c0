package tc

import (
	"bytes"
	"cmp"
	"encoding/binary"
)

// MaxDataLength bounds the declaration data carried by one record.
const MaxDataLength = 1024

// Record is a single node's assertion, effective from EffectiveTime.
// Times are seconds since the Unix epoch. Empty Data revokes the node's
// prior assertion.
type Record struct {
	NodeNbr       uint64
	EffectiveTime uint32
	AssertionTime uint32
	Data          []byte
}

// Key uniquely identifies a record and defines the order of every record
// list and bulletin stream.
type Key struct {
	NodeNbr       uint64
	EffectiveTime uint32
}

// KeyLen is the length of the order-preserving byte form of a Key.
const KeyLen = 12

func (r *Record) Key() Key {
	return Key{NodeNbr: r.NodeNbr, EffectiveTime: r.EffectiveTime}
}

func (r *Record) IsRevocation() bool {
	return len(r.Data) == 0
}

// SameContent reports whether two records with the same key carry the same
// assertion.
func (r *Record) SameContent(o *Record) bool {
	return r.AssertionTime == o.AssertionTime && bytes.Equal(r.Data, o.Data)
}

func (k Key) Compare(o Key) int {
	if c := cmp.Compare(k.NodeNbr, o.NodeNbr); c != 0 {
		return c
	}
	return cmp.Compare(k.EffectiveTime, o.EffectiveTime)
}

func (k Key) Less(o Key) bool {
	return k.Compare(o) < 0
}

// Bytes encodes the key so that byte order equals key order.
func (k Key) Bytes() []byte {
	b := make([]byte, KeyLen)
	binary.BigEndian.PutUint64(b[0:8], k.NodeNbr)
	binary.BigEndian.PutUint32(b[8:12], k.EffectiveTime)
	return b
}

func KeyFromBytes(b []byte) (Key, bool) {
	if len(b) != KeyLen {
		return Key{}, false
	}
	return Key{
		NodeNbr:       binary.BigEndian.Uint64(b[0:8]),
		EffectiveTime: binary.BigEndian.Uint32(b[8:12]),
	}, true
}

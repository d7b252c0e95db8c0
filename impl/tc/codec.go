package tc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrTruncated means the buffer ended before the declared content.
	ErrTruncated = errors.New("truncated")
	// ErrMalformed means the content violates the wire format.
	ErrMalformed = errors.New("malformed")
	// ErrPadding is returned by ParseRecord at a zero node number, which
	// marks the padding that ends a bulletin body.
	ErrPadding = errors.New("padding")
	// ErrOutOfOrder rejects record streams whose keys decrease.
	ErrOutOfOrder = errors.New("records out of order")
)

// recordHeaderLen covers effective time, assertion time and data length.
const recordHeaderLen = 10

// AppendRecord appends the wire form of r to dst.
func AppendRecord(dst []byte, r *Record) []byte {
	dst = AppendSDNV(dst, r.NodeNbr)
	dst = binary.BigEndian.AppendUint32(dst, r.EffectiveTime)
	dst = binary.BigEndian.AppendUint32(dst, r.AssertionTime)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(r.Data)))
	return append(dst, r.Data...)
}

// Serialize returns the wire form of one record.
func Serialize(r *Record) []byte {
	return AppendRecord(make([]byte, 0, maxSDNVLen+recordHeaderLen+len(r.Data)), r)
}

// ParseRecord decodes the record at the start of buf and returns it with
// the number of bytes consumed. Records whose data exceeds maxData are
// malformed.
func ParseRecord(buf []byte, maxData int) (Record, int, error) {
	nodeNbr, n, err := DecodeSDNV(buf)
	if err != nil {
		return Record{}, 0, err
	}
	if nodeNbr == 0 {
		return Record{}, n, ErrPadding
	}

	rest := buf[n:]
	if len(rest) < recordHeaderLen {
		return Record{}, 0, ErrTruncated
	}

	datLength := int(binary.BigEndian.Uint16(rest[8:10]))
	if datLength > maxData {
		return Record{}, 0, fmt.Errorf("%w: data length %d exceeds %d", ErrMalformed, datLength, maxData)
	}
	if len(rest)-recordHeaderLen < datLength {
		return Record{}, 0, ErrTruncated
	}

	r := Record{
		NodeNbr:       nodeNbr,
		EffectiveTime: binary.BigEndian.Uint32(rest[0:4]),
		AssertionTime: binary.BigEndian.Uint32(rest[4:8]),
	}
	if datLength > 0 {
		r.Data = append([]byte(nil), rest[recordHeaderLen:recordHeaderLen+datLength]...)
	}

	return r, n + recordHeaderLen + datLength, nil
}

// ParseRecords decodes a bulletin body. Parsing ends without error at the
// end of the buffer or at padding.
func ParseRecords(body []byte, maxData int) ([]Record, error) {
	var recs []Record
	for len(body) > 0 {
		r, n, err := ParseRecord(body, maxData)
		if errors.Is(err, ErrPadding) {
			break
		}
		if err != nil {
			return recs, err
		}
		recs = append(recs, r)
		body = body[n:]
	}
	return recs, nil
}

// AppendRecords appends records back to back; callers pass them in key order.
func AppendRecords(dst []byte, recs []Record) []byte {
	for i := range recs {
		dst = AppendRecord(dst, &recs[i])
	}
	return dst
}

// EncodeProposal builds a proposed-bulletin payload: the 4-byte bulletin id
// followed by the records in key order.
func EncodeProposal(id uint32, recs []Record) []byte {
	buf := binary.BigEndian.AppendUint32(nil, id)
	return AppendRecords(buf, recs)
}

// DecodeProposal parses a proposed-bulletin payload. Any decrease in key
// order rejects the whole payload.
func DecodeProposal(buf []byte) (uint32, []Record, error) {
	if len(buf) < 4 {
		return 0, nil, ErrTruncated
	}
	id := binary.BigEndian.Uint32(buf[:4])

	recs, err := ParseRecords(buf[4:], MaxDataLength)
	if err != nil {
		return id, nil, err
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Key().Less(recs[i-1].Key()) {
			return id, nil, fmt.Errorf("%w: record %d", ErrOutOfOrder, i)
		}
	}
	return id, recs, nil
}

// HashLen is the length of a bulletin hash.
const HashLen = 32

// BlockHeaderLen is the fixed prefix of every block payload.
const BlockHeaderLen = 4 + HashLen + 4

// BlockHeader precedes every erasure-coded block sent to clients.
type BlockHeader struct {
	Timestamp uint32
	Hash      [HashLen]byte
	Share     uint32
}

// EncodeBlock builds a block payload.
func EncodeBlock(h BlockHeader, text []byte) []byte {
	buf := make([]byte, 0, BlockHeaderLen+len(text))
	buf = binary.BigEndian.AppendUint32(buf, h.Timestamp)
	buf = append(buf, h.Hash[:]...)
	buf = binary.BigEndian.AppendUint32(buf, h.Share)
	return append(buf, text...)
}

// DecodeBlock splits a block payload into header and block text. The block
// size is whatever follows the header and must not be empty.
func DecodeBlock(buf []byte) (BlockHeader, []byte, error) {
	if len(buf) <= BlockHeaderLen {
		return BlockHeader{}, nil, ErrTruncated
	}
	var h BlockHeader
	h.Timestamp = binary.BigEndian.Uint32(buf[0:4])
	copy(h.Hash[:], buf[4:4+HashLen])
	h.Share = binary.BigEndian.Uint32(buf[4+HashLen : BlockHeaderLen])
	return h, append([]byte(nil), buf[BlockHeaderLen:]...), nil
}

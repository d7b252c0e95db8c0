package tc

// Self-delimiting numeric values: big-endian groups of 7 bits, the high bit
// of every byte but the last set.

const maxSDNVLen = 10

// AppendSDNV appends the SDNV encoding of v to dst.
func AppendSDNV(dst []byte, v uint64) []byte {
	var buf [maxSDNVLen]byte
	i := len(buf) - 1
	buf[i] = byte(v & 0x7f)
	for v >>= 7; v > 0; v >>= 7 {
		i--
		buf[i] = byte(v&0x7f) | 0x80
	}
	return append(dst, buf[i:]...)
}

// DecodeSDNV returns the value at the start of buf and the number of bytes
// it occupied.
func DecodeSDNV(buf []byte) (uint64, int, error) {
	var v uint64
	for i, b := range buf {
		if i == maxSDNVLen {
			return 0, 0, ErrMalformed
		}
		if v > (^uint64(0))>>7 {
			return 0, 0, ErrMalformed
		}
		v = v<<7 | uint64(b&0x7f)
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, ErrTruncated
}

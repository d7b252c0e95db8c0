// Package frame is the wire framing shared by the stream transports: every
// message travels as a length-prefixed frame carrying its source, its
// destination endpoint, an expiry and a bundle id, optionally followed by a
// keyed BLAKE2b MAC over the frame.
package frame

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/usernamenenad/trusted-collective/core"
)

const magic byte = 0xBC

const (
	macLen  = 32
	maxName = 255

	// MaxFrameLen bounds a frame read from the wire.
	MaxFrameLen = 16 << 20
)

var (
	ErrBadFrame = errors.New("malformed frame")
	ErrBadMAC   = errors.New("frame authentication failed")
)

type Frame struct {
	Source   string
	Dest     string
	Expires  time.Time
	BundleId core.BundleId
	Payload  []byte
}

// Delivery converts the frame to what Transport.Receive hands up.
func (f *Frame) Delivery() core.Delivery {
	return core.Delivery{Source: f.Source, Dest: f.Dest, Payload: f.Payload}
}

// Codec marshals frames. With a secret every frame carries a MAC and
// frames without a valid one are rejected.
type Codec struct {
	key []byte
}

func NewCodec(secret []byte) *Codec {
	if len(secret) == 0 {
		return &Codec{}
	}
	k := blake2b.Sum256(secret)
	return &Codec{key: k[:]}
}

func (c *Codec) newMAC() hash.Hash {
	// New256 only fails for keys over 64 bytes.
	h, _ := blake2b.New256(c.key)
	return h
}

func (c *Codec) Marshal(f *Frame) ([]byte, error) {
	if len(f.Source) > maxName || len(f.Dest) > maxName || len(f.BundleId) > maxName {
		return nil, fmt.Errorf("%w: endpoint or bundle id too long", ErrBadFrame)
	}

	buf := make([]byte, 0, 16+len(f.Source)+len(f.Dest)+len(f.BundleId)+len(f.Payload)+macLen)
	buf = append(buf, magic)
	buf = appendName(buf, f.Source)
	buf = appendName(buf, f.Dest)
	var expires int64
	if !f.Expires.IsZero() {
		expires = f.Expires.UnixNano()
	}
	buf = binary.BigEndian.AppendUint64(buf, uint64(expires))
	buf = appendName(buf, string(f.BundleId))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Payload)))
	buf = append(buf, f.Payload...)

	if c.key != nil {
		h := c.newMAC()
		h.Write(buf)
		buf = h.Sum(buf)
	}
	return buf, nil
}

func (c *Codec) Unmarshal(data []byte) (*Frame, error) {
	if c.key != nil {
		if len(data) < macLen {
			return nil, ErrBadMAC
		}
		body, sum := data[:len(data)-macLen], data[len(data)-macLen:]
		h := c.newMAC()
		h.Write(body)
		if subtle.ConstantTimeCompare(h.Sum(nil), sum) != 1 {
			return nil, ErrBadMAC
		}
		data = body
	}

	r := reader{buf: data}
	if r.byte() != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadFrame)
	}
	f := &Frame{}
	f.Source = r.name()
	f.Dest = r.name()
	if expires := int64(r.uint64()); expires != 0 {
		f.Expires = time.Unix(0, expires)
	}
	f.BundleId = core.BundleId(r.name())
	n := int(r.uint32())
	f.Payload = r.bytes(n)
	if r.err != nil || len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: bad length", ErrBadFrame)
	}
	return f, nil
}

// Write writes a length-prefixed frame.
func (c *Codec) Write(w io.Writer, f *Frame) error {
	data, err := c.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

// Read reads a length-prefixed frame.
func (c *Codec) Read(r io.Reader) (*Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadFrame, length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	return c.Unmarshal(data)
}

func appendName(buf []byte, s string) []byte {
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil || n < 0 || len(r.buf) < n {
		r.err = ErrBadFrame
		return nil
	}
	b := r.buf[:n:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) byte() byte {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) name() string {
	return string(r.bytes(int(r.byte())))
}

func (r *reader) uint32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) uint64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

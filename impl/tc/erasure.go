package tc

import (
	"bytes"
	"fmt"

	"github.com/klauspost/reedsolomon"
	sha256 "github.com/minio/sha256-simd"
)

// Coder is the systematic (K, M) erasure code of a collective: blocks
// 0..K carry the bulletin itself, blocks K..M are parity.
type Coder struct {
	fec FEC
	enc reedsolomon.Encoder
}

func NewCoder(fec FEC) (*Coder, error) {
	enc, err := reedsolomon.New(fec.K, fec.Parity())
	if err != nil {
		return nil, fmt.Errorf("reed-solomon (%d,%d): %w", fec.K, fec.M, err)
	}
	return &Coder{fec: fec, enc: enc}, nil
}

func (c *Coder) FEC() FEC {
	return c.fec
}

// BlockSize is the size of every block for a bulletin of n bytes.
func (c *Coder) BlockSize(n int) int {
	return (n + c.fec.K - 1) / c.fec.K
}

// Hash is the bulletin hash over the K data blocks concatenated.
func Hash(data []byte) [HashLen]byte {
	return sha256.Sum256(data)
}

// Encode pads content to K equal blocks, hashes them and returns all M
// blocks. Content must not be empty.
func (c *Coder) Encode(content []byte) ([HashLen]byte, [][]byte, error) {
	if len(content) == 0 {
		return [HashLen]byte{}, nil, fmt.Errorf("empty bulletin")
	}

	blksize := c.BlockSize(len(content))
	padded := make([]byte, c.fec.K*blksize)
	copy(padded, content)

	blocks := make([][]byte, c.fec.M)
	for i := 0; i < c.fec.K; i++ {
		blocks[i] = padded[i*blksize : (i+1)*blksize]
	}
	for i := c.fec.K; i < c.fec.M; i++ {
		blocks[i] = make([]byte, blksize)
	}

	if err := c.enc.Encode(blocks); err != nil {
		return [HashLen]byte{}, nil, fmt.Errorf("encode: %w", err)
	}

	return Hash(padded), blocks, nil
}

// Reconstruct recovers the K data blocks from slots, which has one entry
// per share with nil for every share not loaded, and returns them
// concatenated. slots is not modified.
func (c *Coder) Reconstruct(slots [][]byte) ([]byte, error) {
	if len(slots) != c.fec.M {
		return nil, fmt.Errorf("expected %d slots, got %d", c.fec.M, len(slots))
	}

	shards := make([][]byte, len(slots))
	copy(shards, slots)

	if err := c.enc.ReconstructData(shards); err != nil {
		return nil, fmt.Errorf("reconstruct: %w", err)
	}

	return bytes.Join(shards[:c.fec.K], nil), nil
}

package tcc

import (
	"slices"

	"github.com/usernamenenad/trusted-collective/impl/tc"
)

// pick returns the first copy of share not sent by an excluded authority,
// preferring the primary copy.
func pick(s *Share, excluded []int) *Block {
	for _, b := range s.Blocks {
		if b != nil && !slices.Contains(excluded, b.Source) {
			return b
		}
	}
	return nil
}

// slotsFor loads K input slots. Data shares take their own slot; parity
// shares fill in, lowest first, until K slots are loaded. It reports
// false when fewer than K usable blocks exist.
func slotsFor(fec tc.FEC, shares []Share, excluded []int) ([][]byte, bool) {
	slots := make([][]byte, fec.M)
	loaded := 0
	for s := 0; s < fec.K; s++ {
		if b := pick(&shares[s], excluded); b != nil {
			slots[s] = b.Text
			loaded++
		}
	}
	for s := fec.K; s < fec.M && loaded < fec.K; s++ {
		if b := pick(&shares[s], excluded); b != nil {
			slots[s] = b.Text
			loaded++
		}
	}
	return slots, loaded >= fec.K
}

// TryReconstruct decodes a bulletin from the received shares while ignoring
// every block sent by an excluded authority. It returns the content only
// when it hashes to want.
func TryReconstruct(coder *tc.Coder, shares []Share, want [tc.HashLen]byte, excluded []int) ([]byte, bool) {
	slots, ok := slotsFor(coder.FEC(), shares, excluded)
	if !ok {
		return nil, false
	}
	content, err := coder.Reconstruct(slots)
	if err != nil {
		return nil, false
	}
	if tc.Hash(content) != want {
		return nil, false
	}
	return content, true
}

// Search result of one reconstruction round.
type Search struct {
	Content  []byte
	Excluded []int // authorities whose blocks had to be left out
	Attempts int
}

// Reconstruct runs TryReconstruct over every exclusion set of at most
// limit authorities and returns the first success.
func Reconstruct(coder *tc.Coder, shares []Share, want [tc.HashLen]byte, limit int) (Search, bool) {
	var result Search
	ok := Exclusions(coder.FEC().Authorities, limit, func(excluded []int) bool {
		result.Attempts++
		content, ok := TryReconstruct(coder, shares, want, excluded)
		if !ok {
			return false
		}
		result.Content = content
		result.Excluded = slices.Clone(excluded)
		return true
	})
	return result, ok
}

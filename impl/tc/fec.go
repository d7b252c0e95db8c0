package tc

import (
	"fmt"
	"math"
)

// MaxShares bounds M so that the code stays within GF(2^8).
const MaxShares = 256

// FEC holds the erasure-coding layout of a collective, derived once from
// the diffusion K, redundancy R and authority count A.
//
//	M = K + round(R·K), rounded up to a multiple of A
//	N = 2M   transmissions per bulletin
//	Q = N/A  blocks sent per authority, half primary and half backup
type FEC struct {
	K           int `cbor:"k"`
	M           int `cbor:"m"`
	N           int `cbor:"n"`
	Q           int `cbor:"q"`
	Authorities int `cbor:"a"`
}

// Slot tells which of the two copies of a share a block is.
type Slot int

const (
	SlotPrimary Slot = iota
	SlotBackup
)

func (s Slot) String() string {
	switch s {
	case SlotPrimary:
		return "primary"
	case SlotBackup:
		return "backup"
	default:
		return "unknown"
	}
}

// Range is a half-open range of share numbers.
type Range struct {
	First int
	Last  int
}

func (r Range) Contains(share int) bool {
	return share >= r.First && share < r.Last
}

func (r Range) Len() int {
	return r.Last - r.First
}

func NewFEC(k int, r float64, authorities int) (FEC, error) {
	if k < 1 {
		return FEC{}, fmt.Errorf("diffusion must be at least 1, got %d", k)
	}
	if r < 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return FEC{}, fmt.Errorf("invalid redundancy %v", r)
	}
	if authorities < 2 {
		return FEC{}, fmt.Errorf("need at least 2 authorities, got %d", authorities)
	}

	m := k + int(math.Round(r*float64(k)))
	if m == k {
		m++
	}
	if rem := m % authorities; rem != 0 {
		m += authorities - rem
	}
	if m > MaxShares {
		return FEC{}, fmt.Errorf("%d shares exceed the maximum of %d", m, MaxShares)
	}

	n := 2 * m
	return FEC{
		K:           k,
		M:           m,
		N:           n,
		Q:           n / authorities,
		Authorities: authorities,
	}, nil
}

// Parity is the number of parity blocks per bulletin.
func (f FEC) Parity() int {
	return f.M - f.K
}

// Primary returns the share range authority idx publishes as primary.
func (f FEC) Primary(idx int) Range {
	half := f.Q / 2
	return Range{First: idx * half, Last: (idx + 1) * half}
}

// Backup returns the share range authority idx publishes as backup: the
// primary range of the authority half the roster away.
func (f FEC) Backup(idx int) Range {
	return f.Primary((idx + f.Authorities/2) % f.Authorities)
}

// Classify reports whether share belongs to the primary or backup range of
// authority idx.
func (f FEC) Classify(idx, share int) (Slot, bool) {
	if idx < 0 || idx >= f.Authorities {
		return 0, false
	}
	if f.Primary(idx).Contains(share) {
		return SlotPrimary, true
	}
	if f.Backup(idx).Contains(share) {
		return SlotBackup, true
	}
	return 0, false
}

// Shares lists the share numbers authority idx transmits, primary first.
func (f FEC) Shares(idx int) []int {
	p, b := f.Primary(idx), f.Backup(idx)
	shares := make([]int, 0, p.Len()+b.Len())
	for s := p.First; s < p.Last; s++ {
		shares = append(shares, s)
	}
	for s := b.First; s < b.Last; s++ {
		shares = append(shares, s)
	}
	return shares
}

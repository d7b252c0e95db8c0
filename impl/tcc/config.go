package tcc

import (
	"errors"
	"fmt"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/impl/tc"
	"github.com/usernamenenad/trusted-collective/store"
)

// DefaultMaxCompromised is the number of authorities assumed to be
// simultaneously compromised at most.
const DefaultMaxCompromised = 2

var (
	ErrInitialized    = errors.New("client state already initialized")
	ErrNotInitialized = errors.New("client state not initialized")
)

// Params is the client's view of the collective, written once.
type Params struct {
	FEC            tc.FEC         `cbor:"fec"`
	Authorities    []core.NodeNbr `cbor:"authorities"`
	Blocks         string         `cbor:"blocks"`
	MaxCompromised int            `cbor:"max_compromised"`
}

// Settings are the administrative inputs Params are derived from.
type Settings struct {
	Diffusion   int
	Redundancy  float64
	Authorities []core.NodeNbr
	Blocks      string

	// MaxCompromised bounds the exclusion search. Zero means
	// DefaultMaxCompromised, capped below the authority count; a negative
	// value disables exclusion.
	MaxCompromised int
}

func (s Settings) Derive() (Params, error) {
	fec, err := tc.NewFEC(s.Diffusion, s.Redundancy, len(s.Authorities))
	if err != nil {
		return Params{}, err
	}
	for i, n := range s.Authorities {
		if n == 0 {
			return Params{}, fmt.Errorf("authority %d has node number zero", i)
		}
	}

	limit := s.MaxCompromised
	switch {
	case limit == 0:
		limit = min(DefaultMaxCompromised, len(s.Authorities)-1)
	case limit < 0:
		limit = 0
	}
	if limit >= len(s.Authorities) {
		return Params{}, fmt.Errorf("cannot exclude %d of %d authorities", limit, len(s.Authorities))
	}

	return Params{
		FEC:            fec,
		Authorities:    append([]core.NodeNbr(nil), s.Authorities...),
		Blocks:         s.Blocks,
		MaxCompromised: limit,
	}, nil
}

func (p *Params) index(node core.NodeNbr) (int, bool) {
	for i, n := range p.Authorities {
		if n == node {
			return i, true
		}
	}
	return -1, false
}

// Initialize derives the client parameters and writes them to s once.
func Initialize(s core.Store, settings Settings) (Params, error) {
	params, err := settings.Derive()
	if err != nil {
		return Params{}, err
	}

	err = s.Update(func(txn core.Txn) error {
		_, err := txn.Get(paramsKey)
		found, err := store.Found(err)
		if err != nil {
			return err
		}
		if found {
			return ErrInitialized
		}
		return store.Put(txn, paramsKey, &params)
	})
	if err != nil {
		return Params{}, err
	}
	return params, nil
}

func LoadParams(s core.Store) (Params, error) {
	var params Params
	err := s.View(func(txn core.Txn) error {
		return store.Get(txn, paramsKey, &params)
	})
	if errors.Is(err, core.ErrNotFound) {
		return Params{}, ErrNotInitialized
	}
	return params, err
}

package tca

import (
	"errors"
	"fmt"
	"time"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/impl/tc"
	"github.com/usernamenenad/trusted-collective/store"
)

var (
	ErrInitialized    = errors.New("authority state already initialized")
	ErrNotInitialized = errors.New("authority state not initialized")
	ErrNotMember      = errors.New("node is not a member of the collective")
)

// Member is one slot of the authority roster. Its position in the roster
// is the authority index used for acknowledgments and share ranges.
type Member struct {
	Node      core.NodeNbr `cbor:"node"`
	InService bool         `cbor:"in_service"`
}

// Params is the configuration shared by every authority of a collective.
// It is written once by Initialize and never changes afterwards.
type Params struct {
	FEC         tc.FEC         `cbor:"fec"`
	Authorities []Member       `cbor:"authorities"`
	Clients     []core.NodeNbr `cbor:"clients"`
	Groups      tc.Groups      `cbor:"groups"`

	CompilationInterval time.Duration `cbor:"compilation_interval"`
	ConsensusInterval   time.Duration `cbor:"consensus_interval"`
	WakeLead            time.Duration `cbor:"wake_lead"`
	BundleTTL           time.Duration `cbor:"bundle_ttl"`

	// Hijacked zeroes the effective time of every published record.
	// Test hook only.
	Hijacked bool `cbor:"hijacked"`
}

// Settings are the administrative inputs Params are derived from.
type Settings struct {
	Diffusion   int
	Redundancy  float64
	Authorities []Member
	Clients     []core.NodeNbr
	Groups      tc.Groups

	CompilationInterval time.Duration
	ConsensusInterval   time.Duration
	WakeLead            time.Duration
	BundleTTL           time.Duration
	Hijacked            bool
}

// Derive validates the settings and computes the FEC layout.
func (s Settings) Derive() (Params, error) {
	fec, err := tc.NewFEC(s.Diffusion, s.Redundancy, len(s.Authorities))
	if err != nil {
		return Params{}, err
	}

	seen := make(map[core.NodeNbr]bool, len(s.Authorities))
	for i, m := range s.Authorities {
		if m.Node == 0 {
			return Params{}, fmt.Errorf("authority %d has node number zero", i)
		}
		if seen[m.Node] {
			return Params{}, fmt.Errorf("node %d listed twice in the roster", m.Node)
		}
		seen[m.Node] = true
	}

	if s.CompilationInterval < time.Second || s.CompilationInterval%time.Second != 0 {
		return Params{}, fmt.Errorf("compilation interval %v must be a whole number of seconds", s.CompilationInterval)
	}
	if s.ConsensusInterval <= 0 || s.WakeLead < 0 {
		return Params{}, errors.New("consensus interval must be positive and wake lead not negative")
	}
	if s.WakeLead+s.ConsensusInterval >= s.CompilationInterval {
		return Params{}, fmt.Errorf("wake lead %v plus consensus interval %v must fit in the compilation interval %v",
			s.WakeLead, s.ConsensusInterval, s.CompilationInterval)
	}

	ttl := s.BundleTTL
	if ttl <= 0 {
		ttl = 4 * s.CompilationInterval
	}

	return Params{
		FEC:                 fec,
		Authorities:         append([]Member(nil), s.Authorities...),
		Clients:             append([]core.NodeNbr(nil), s.Clients...),
		Groups:              s.Groups,
		CompilationInterval: s.CompilationInterval,
		ConsensusInterval:   s.ConsensusInterval,
		WakeLead:            s.WakeLead,
		BundleTTL:           ttl,
		Hijacked:            s.Hijacked,
	}, nil
}

// Index returns the roster position of node.
func (p *Params) Index(node core.NodeNbr) (int, bool) {
	for i, m := range p.Authorities {
		if m.Node == node {
			return i, true
		}
	}
	return -1, false
}

// Initialize derives the collective parameters and writes them to s. It
// fails with ErrInitialized if the store already holds parameters.
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

// LoadParams reads the parameters written by Initialize.
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

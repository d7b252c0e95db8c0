package tca

import (
	"encoding/binary"
	"errors"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/impl/tc"
	"github.com/usernamenenad/trusted-collective/store"
)

// Durable layout of an authority:
//
//	tca/params            Params
//	tca/sched             schedule
//	tca/pending/<key>     pendingRecord, ordered by record key
//	tca/current/<key>     tc.Record published in the latest bulletin
//	tca/proposal/<index>  proposalSeen for each peer authority
var (
	paramsKey       = []byte("tca/params")
	schedKey        = []byte("tca/sched")
	pendingPrefix   = []byte("tca/pending/")
	currentPrefix   = []byte("tca/current/")
	proposalsPrefix = []byte("tca/proposal/")
)

// Ack is one authority's verdict on a pending record.
type Ack int8

const (
	AckNone     Ack = 0
	AckAgree    Ack = 1
	AckDisagree Ack = -1
)

func (a Ack) String() string {
	switch a {
	case AckAgree:
		return "agree"
	case AckDisagree:
		return "disagree"
	default:
		return "none"
	}
}

type pendingRecord struct {
	Record   tc.Record `cbor:"record"`
	Acks     []Ack     `cbor:"acks"`
	Proposed uint32    `cbor:"proposed"` // cycle the record was frozen into, 0 if none
}

type schedule struct {
	Next    uint32 `cbor:"next"`
	Current uint32 `cbor:"current"`
}

type proposalSeen struct {
	Cycle  uint32 `cbor:"cycle"`
	Digest uint64 `cbor:"digest"`
}

func pendingKey(k tc.Key) []byte {
	return store.Key(pendingPrefix, k.Bytes())
}

func currentKey(k tc.Key) []byte {
	return store.Key(currentPrefix, k.Bytes())
}

func proposalKey(idx int) []byte {
	return binary.BigEndian.AppendUint16(append([]byte(nil), proposalsPrefix...), uint16(idx))
}

func loadSchedule(txn core.Txn) (schedule, error) {
	var s schedule
	err := store.Get(txn, schedKey, &s)
	if errors.Is(err, core.ErrNotFound) {
		return schedule{}, nil
	}
	return s, err
}

// eachPending calls fn for every pending record in key order.
func eachPending(txn core.Txn, fn func(key []byte, p *pendingRecord) error) error {
	return txn.Iterate(pendingPrefix, func(key, value []byte) error {
		var p pendingRecord
		if err := store.Unmarshal(value, &p); err != nil {
			return err
		}
		return fn(key, &p)
	})
}

// Pending returns the pending records in key order.
func (a *Authority) Pending() ([]tc.Record, error) {
	var recs []tc.Record
	err := a.store.View(func(txn core.Txn) error {
		return eachPending(txn, func(_ []byte, p *pendingRecord) error {
			recs = append(recs, p.Record)
			return nil
		})
	})
	return recs, err
}

// Acks returns the acknowledgment vector of a pending record.
func (a *Authority) Acks(k tc.Key) ([]Ack, error) {
	var p pendingRecord
	err := a.store.View(func(txn core.Txn) error {
		return store.Get(txn, pendingKey(k), &p)
	})
	return p.Acks, err
}

// Current returns the records of the latest published bulletin.
func (a *Authority) Current() ([]tc.Record, error) {
	var recs []tc.Record
	err := a.store.View(func(txn core.Txn) error {
		return txn.Iterate(currentPrefix, func(_, value []byte) error {
			var r tc.Record
			if err := store.Unmarshal(value, &r); err != nil {
				return err
			}
			recs = append(recs, r)
			return nil
		})
	})
	return recs, err
}

package tcc

import (
	"encoding/binary"
	"errors"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/impl/tc"
	"github.com/usernamenenad/trusted-collective/store"
)

// Durable layout of a client:
//
//	tcc/params                           Params
//	tcc/last                             time of the last reconstructed bulletin
//	tcc/bulletin/<ts|hash|blksize>       bulletinState
//	tcc/share/<ts|hash|blksize>/<share>  Share
//	tcc/content/<seq>                    reconstructed bulletin, oldest first
//	tcc/seq                              next queue sequence number
var (
	paramsKey      = []byte("tcc/params")
	lastKey        = []byte("tcc/last")
	bulletinPrefix = []byte("tcc/bulletin/")
	sharePrefix    = []byte("tcc/share/")
	contentPrefix  = []byte("tcc/content/")
	seqKey         = []byte("tcc/seq")
)

// bulletinIDLen is the length of the identity of an in-progress bulletin.
const bulletinIDLen = 4 + tc.HashLen + 4

type bulletinState struct {
	SharesAnnounced int `cbor:"shares_announced"`
}

// Block is one received copy of a share together with the roster index of
// the authority that sent it.
type Block struct {
	Source int    `cbor:"source"`
	Text   []byte `cbor:"text"`
}

// Share holds the primary and backup copies of one share number.
type Share struct {
	Blocks [2]*Block `cbor:"blocks"`
}

func (s *Share) empty() bool {
	return s.Blocks[0] == nil && s.Blocks[1] == nil
}

func bulletinID(h tc.BlockHeader, blksize int) []byte {
	id := make([]byte, 0, bulletinIDLen)
	id = binary.BigEndian.AppendUint32(id, h.Timestamp)
	id = append(id, h.Hash[:]...)
	return binary.BigEndian.AppendUint32(id, uint32(blksize))
}

func bulletinKey(id []byte) []byte {
	return store.Key(bulletinPrefix, id)
}

func sharesKey(id []byte) []byte {
	return store.Key(sharePrefix, id, []byte{'/'})
}

func shareKey(id []byte, share int) []byte {
	return binary.BigEndian.AppendUint16(sharesKey(id), uint16(share))
}

func loadUint(txn core.Txn, key []byte) (uint64, error) {
	var v uint64
	err := store.Get(txn, key, &v)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	return v, err
}

func loadLast(txn core.Txn) (uint32, error) {
	v, err := loadUint(txn, lastKey)
	return uint32(v), err
}

// loadShares returns the shares of a bulletin indexed by share number.
func loadShares(txn core.Txn, id []byte, m int) ([]Share, error) {
	shares := make([]Share, m)
	prefix := sharesKey(id)
	err := txn.Iterate(prefix, func(key, value []byte) error {
		n := int(binary.BigEndian.Uint16(key[len(prefix):]))
		if n >= m {
			return nil
		}
		return store.Unmarshal(value, &shares[n])
	})
	return shares, err
}

// purge removes the bulletin with the given timestamp and every older one.
func purge(txn core.Txn, ts uint32) error {
	return txn.Iterate(bulletinPrefix, func(key, _ []byte) error {
		id := key[len(bulletinPrefix):]
		if binary.BigEndian.Uint32(id[:4]) > ts {
			return nil
		}
		if err := store.DeletePrefix(txn, sharesKey(id)); err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// enqueue appends reconstructed content to the completed-bulletin queue.
func enqueue(txn core.Txn, content []byte) error {
	seq, err := loadUint(txn, seqKey)
	if err != nil {
		return err
	}
	if err := txn.Set(store.Key(contentPrefix, binary.BigEndian.AppendUint64(nil, seq)), content); err != nil {
		return err
	}
	return store.Put(txn, seqKey, seq+1)
}

// dequeue removes and returns the oldest queued content.
func dequeue(txn core.Txn) ([]byte, bool, error) {
	var (
		content []byte
		found   bool
	)
	err := txn.Iterate(contentPrefix, func(key, value []byte) error {
		content, found = append([]byte(nil), value...), true
		if err := txn.Delete(key); err != nil {
			return err
		}
		return errStopWalk
	})
	if errors.Is(err, errStopWalk) {
		err = nil
	}
	return content, found, err
}

var errStopWalk = errors.New("stop walk")

// Pending lists the timestamps of bulletins still being collected.
func (c *Client) Pending() ([]uint32, error) {
	var out []uint32
	err := c.store.View(func(txn core.Txn) error {
		return txn.Iterate(bulletinPrefix, func(key, _ []byte) error {
			out = append(out, binary.BigEndian.Uint32(key[len(bulletinPrefix):]))
			return nil
		})
	})
	return out, err
}

// LastBulletinTime is the timestamp of the newest reconstructed bulletin.
func (c *Client) LastBulletinTime() (uint32, error) {
	var last uint32
	err := c.store.View(func(txn core.Txn) error {
		var err error
		last, err = loadLast(txn)
		return err
	})
	return last, err
}

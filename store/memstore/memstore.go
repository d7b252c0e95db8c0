// Package memstore is an in-memory core.Store. Transactions work on a
// copy-on-write clone of an ordered B-tree that replaces the committed tree
// only when the transaction succeeds.
package memstore

import (
	"bytes"
	"errors"
	"sync"

	"github.com/google/btree"

	"github.com/usernamenenad/trusted-collective/core"
)

const degree = 16

var (
	ErrClosed   = errors.New("memstore: closed")
	ErrReadOnly = errors.New("memstore: read-only transaction")
)

type item struct {
	key   []byte
	value []byte
}

func less(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

type Store struct {
	writer sync.Mutex // one Update at a time

	mu     sync.RWMutex
	tree   *btree.BTreeG[item]
	closed bool
}

func New() *Store {
	return &Store{tree: btree.NewG(degree, less)}
}

func (s *Store) Update(fn func(txn core.Txn) error) error {
	s.writer.Lock()
	defer s.writer.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	work := s.tree.Clone()
	s.mu.Unlock()

	if err := fn(&txn{tree: work, writable: true}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.tree = work
	return nil
}

func (s *Store) View(fn func(txn core.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return fn(&txn{tree: s.tree})
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type txn struct {
	tree     *btree.BTreeG[item]
	writable bool
}

func (t *txn) Get(key []byte) ([]byte, error) {
	it, ok := t.tree.Get(item{key: key})
	if !ok {
		return nil, core.ErrNotFound
	}
	return bytes.Clone(it.value), nil
}

func (t *txn) Set(key, value []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	v := bytes.Clone(value)
	if v == nil {
		v = []byte{}
	}
	t.tree.ReplaceOrInsert(item{key: bytes.Clone(key), value: v})
	return nil
}

func (t *txn) Delete(key []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	t.tree.Delete(item{key: key})
	return nil
}

// Iterate collects the matching items before calling fn, so fn may modify
// the transaction.
func (t *txn) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	var matched []item
	t.tree.AscendGreaterOrEqual(item{key: prefix}, func(it item) bool {
		if !bytes.HasPrefix(it.key, prefix) {
			return false
		}
		matched = append(matched, it)
		return true
	})

	for _, it := range matched {
		if err := fn(bytes.Clone(it.key), bytes.Clone(it.value)); err != nil {
			return err
		}
	}
	return nil
}

// Package badgerstore is a core.Store on an embedded Badger database,
// either file-backed or held in memory.
package badgerstore

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/usernamenenad/trusted-collective/core"
)

// maxConflictRetries bounds how often an Update is re-run after losing a
// write conflict to a concurrent transaction.
const maxConflictRetries = 8

type Options struct {
	// Dir holds the database files. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	Logger   *zap.Logger
}

type Store struct {
	db *badger.DB
}

func Open(opts Options) (*Store, error) {
	dir := opts.Dir
	if opts.InMemory {
		dir = ""
	}

	bopts := badger.DefaultOptions(dir).
		WithInMemory(opts.InMemory).
		WithLogger(newLogger(opts.Logger))

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Update(fn func(txn core.Txn) error) error {
	for attempt := 0; ; attempt++ {
		err := s.db.Update(func(btx *badger.Txn) error {
			return fn(&txn{btx: btx})
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		return err
	}
}

func (s *Store) View(fn func(txn core.Txn) error) error {
	return s.db.View(func(btx *badger.Txn) error {
		return fn(&txn{btx: btx})
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

type txn struct {
	btx *badger.Txn
}

func (t *txn) Get(key []byte) ([]byte, error) {
	it, err := t.btx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return it.ValueCopy(nil)
}

func (t *txn) Set(key, value []byte) error {
	return t.btx.Set(append([]byte(nil), key...), append([]byte(nil), value...))
}

func (t *txn) Delete(key []byte) error {
	return t.btx.Delete(append([]byte(nil), key...))
}

type kv struct {
	key   []byte
	value []byte
}

// Iterate collects the matching pairs first, so fn may write to the
// transaction while iterating.
func (t *txn) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	var matched []kv
	it := t.btx.NewIterator(opts)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		v, err := item.ValueCopy(nil)
		if err != nil {
			it.Close()
			return err
		}
		matched = append(matched, kv{key: item.KeyCopy(nil), value: v})
	}
	it.Close()

	for _, p := range matched {
		if err := fn(p.key, p.value); err != nil {
			return err
		}
	}
	return nil
}

// logger adapts zap to badger's printf-style logger.
type logger struct {
	s *zap.SugaredLogger
}

func newLogger(l *zap.Logger) badger.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &logger{s: l.Named("badger").Sugar()}
}

func (l *logger) Errorf(f string, v ...interface{})   { l.s.Errorf(f, v...) }
func (l *logger) Warningf(f string, v ...interface{}) { l.s.Warnf(f, v...) }
func (l *logger) Infof(f string, v ...interface{})    { l.s.Infof(f, v...) }
func (l *logger) Debugf(f string, v ...interface{})   { l.s.Debugf(f, v...) }

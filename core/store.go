package core

import "errors"

// ErrNotFound is returned by Txn.Get when the key is absent.
var ErrNotFound = errors.New("key not found")

// Txn is a transaction against the persistent store. Keys are compared as
// raw bytes, so ordered lists are kept under a common prefix with an
// order-preserving key encoding.
type Txn interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error

	// Iterate calls fn for every key with the given prefix in ascending
	// order. Returning an error from fn stops the iteration and is returned.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
}

// Store is the transactional object store holding all durable state.
//
// Update commits the transaction when fn returns nil and cancels it
// otherwise; View runs fn against a read-only snapshot.
type Store interface {
	Update(fn func(txn Txn) error) error
	View(fn func(txn Txn) error) error
	Close() error
}

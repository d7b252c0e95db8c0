// Package store holds helpers shared by every core.Store user: durable
// objects are CBOR encoded with a deterministic encoding so that equal
// values produce equal bytes.
package store

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/usernamenenad/trusted-collective/core"
)

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes a durable object.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes a durable object.
func Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

// Get loads the object stored under key into v. It returns core.ErrNotFound
// when the key is absent.
func Get(txn core.Txn, key []byte, v any) error {
	data, err := txn.Get(key)
	if err != nil {
		return err
	}
	if err := Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

// Put stores v under key.
func Put(txn core.Txn, key []byte, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return txn.Set(key, data)
}

// Found reports whether err is anything other than core.ErrNotFound,
// returning the error unchanged when it is a real failure.
func Found(err error) (bool, error) {
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Key joins key parts.
func Key(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	k := make([]byte, 0, n)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

// DeletePrefix removes every key under prefix.
func DeletePrefix(txn core.Txn, prefix []byte) error {
	return txn.Iterate(prefix, func(key, _ []byte) error {
		return txn.Delete(key)
	})
}

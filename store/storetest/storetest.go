// Package storetest holds the behaviour every core.Store implementation
// must share.
package storetest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/usernamenenad/trusted-collective/core"
)

var errAbort = errors.New("abort")

func Run(t *testing.T, open func(t *testing.T) core.Store) {
	t.Run("set get delete", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Update(func(txn core.Txn) error {
			return txn.Set([]byte("a"), []byte("1"))
		}))
		require.NoError(t, s.View(func(txn core.Txn) error {
			v, err := txn.Get([]byte("a"))
			require.NoError(t, err)
			require.Equal(t, []byte("1"), v)

			_, err = txn.Get([]byte("b"))
			require.ErrorIs(t, err, core.ErrNotFound)
			return nil
		}))
		require.NoError(t, s.Update(func(txn core.Txn) error {
			return txn.Delete([]byte("a"))
		}))
		require.NoError(t, s.View(func(txn core.Txn) error {
			_, err := txn.Get([]byte("a"))
			require.ErrorIs(t, err, core.ErrNotFound)
			return nil
		}))
	})

	t.Run("cancelled transaction leaves no trace", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Update(func(txn core.Txn) error {
			return txn.Set([]byte("kept"), []byte("v"))
		}))

		err := s.Update(func(txn core.Txn) error {
			require.NoError(t, txn.Set([]byte("new"), []byte("v")))
			require.NoError(t, txn.Delete([]byte("kept")))
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		require.NoError(t, s.View(func(txn core.Txn) error {
			_, err := txn.Get([]byte("new"))
			require.ErrorIs(t, err, core.ErrNotFound)
			_, err = txn.Get([]byte("kept"))
			require.NoError(t, err)
			return nil
		}))
	})

	t.Run("iterate prefix in order", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Update(func(txn core.Txn) error {
			for _, k := range []string{"p/3", "p/1", "q/0", "p/2", "o/9"} {
				if err := txn.Set([]byte(k), []byte(k)); err != nil {
					return err
				}
			}
			return nil
		}))

		var keys []string
		require.NoError(t, s.View(func(txn core.Txn) error {
			return txn.Iterate([]byte("p/"), func(k, v []byte) error {
				require.Equal(t, k, v)
				keys = append(keys, string(k))
				return nil
			})
		}))
		require.Equal(t, []string{"p/1", "p/2", "p/3"}, keys)
	})

	t.Run("delete while iterating", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Update(func(txn core.Txn) error {
			for _, k := range []string{"x/1", "x/2", "x/3"} {
				if err := txn.Set([]byte(k), []byte("v")); err != nil {
					return err
				}
			}
			return nil
		}))
		require.NoError(t, s.Update(func(txn core.Txn) error {
			return txn.Iterate([]byte("x/"), func(k, _ []byte) error {
				return txn.Delete(k)
			})
		}))

		n := 0
		require.NoError(t, s.View(func(txn core.Txn) error {
			return txn.Iterate([]byte("x/"), func(_, _ []byte) error {
				n++
				return nil
			})
		}))
		require.Zero(t, n)
	})

	t.Run("iteration error stops", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Update(func(txn core.Txn) error {
			require.NoError(t, txn.Set([]byte("i/1"), []byte("v")))
			return txn.Set([]byte("i/2"), []byte("v"))
		}))

		calls := 0
		err := s.View(func(txn core.Txn) error {
			return txn.Iterate([]byte("i/"), func(_, _ []byte) error {
				calls++
				return errAbort
			})
		})
		require.ErrorIs(t, err, errAbort)
		require.Equal(t, 1, calls)
	})
}

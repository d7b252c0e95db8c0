package tc_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/usernamenenad/trusted-collective/impl/tc"
)

func TestErasureRecoversAnyTwoLosses(t *testing.T) {
	f, err := tc.NewFEC(4, 0.5, 3)
	require.NoError(t, err)
	require.Equal(t, 6, f.M)

	coder, err := tc.NewCoder(f)
	require.NoError(t, err)

	content := []byte("the quick brown fox jumps over the lazy dog, twice over")
	hash, blocks, err := coder.Encode(content)
	require.NoError(t, err)
	require.Len(t, blocks, 6)

	padded := make([]byte, 4*coder.BlockSize(len(content)))
	copy(padded, content)
	require.Equal(t, tc.Hash(padded), hash)

	for i := 0; i < f.M; i++ {
		for j := i + 1; j < f.M; j++ {
			slots := make([][]byte, f.M)
			copy(slots, blocks)
			slots[i], slots[j] = nil, nil

			got, err := coder.Reconstruct(slots)
			require.NoError(t, err, "lost %d and %d", i, j)
			require.Equal(t, padded, got)
			require.True(t, bytes.HasPrefix(got, content))
			require.Nil(t, slots[i], "slots must not be modified")
		}
	}
}

func TestErasureTooFewBlocks(t *testing.T) {
	f, err := tc.NewFEC(4, 0.5, 3)
	require.NoError(t, err)
	coder, err := tc.NewCoder(f)
	require.NoError(t, err)

	_, blocks, err := coder.Encode([]byte("0123456789abcdef"))
	require.NoError(t, err)

	slots := make([][]byte, f.M)
	copy(slots, blocks[:3])
	_, err = coder.Reconstruct(slots)
	require.Error(t, err)
}

func TestErasureEmptyContent(t *testing.T) {
	f, err := tc.NewFEC(2, 1, 2)
	require.NoError(t, err)
	coder, err := tc.NewCoder(f)
	require.NoError(t, err)

	_, _, err = coder.Encode(nil)
	require.Error(t, err)
}

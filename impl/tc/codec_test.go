package tc_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/usernamenenad/trusted-collective/impl/tc"
)

func TestRecordRoundTrip(t *testing.T) {
	cases := []tc.Record{
		{NodeNbr: 1, EffectiveTime: 0, AssertionTime: 0},
		{NodeNbr: 127, EffectiveTime: 1700000000, AssertionTime: 1700000100, Data: []byte("key")},
		{NodeNbr: 128, EffectiveTime: 1, AssertionTime: 2, Data: bytes.Repeat([]byte{0xab}, tc.MaxDataLength)},
		{NodeNbr: 1<<64 - 1, EffectiveTime: 1<<32 - 1, AssertionTime: 1<<32 - 1, Data: []byte{0}},
	}

	for _, want := range cases {
		buf := tc.Serialize(&want)
		got, n, err := tc.ParseRecord(buf, tc.MaxDataLength)
		require.NoError(t, err)
		require.Equal(t, len(buf), n)
		require.Equal(t, want, got)
	}
}

func TestSDNV(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 35, 1<<64 - 1} {
		buf := tc.AppendSDNV(nil, v)
		got, n, err := tc.DecodeSDNV(buf)
		require.NoError(t, err)
		require.Equal(t, len(buf), n)
		require.Equal(t, v, got)
	}

	require.Equal(t, []byte{0x82, 0x2c}, tc.AppendSDNV(nil, 300))

	_, _, err := tc.DecodeSDNV([]byte{0x81, 0x80})
	require.ErrorIs(t, err, tc.ErrTruncated)

	_, _, err = tc.DecodeSDNV(bytes.Repeat([]byte{0xff}, 11))
	require.ErrorIs(t, err, tc.ErrMalformed)
}

func TestParseRecordErrors(t *testing.T) {
	rec := tc.Record{NodeNbr: 5, EffectiveTime: 10, AssertionTime: 11, Data: []byte("abcdef")}
	buf := tc.Serialize(&rec)

	t.Run("short header", func(t *testing.T) {
		_, _, err := tc.ParseRecord(buf[:5], tc.MaxDataLength)
		require.ErrorIs(t, err, tc.ErrTruncated)
	})

	t.Run("short data", func(t *testing.T) {
		_, _, err := tc.ParseRecord(buf[:len(buf)-1], tc.MaxDataLength)
		require.ErrorIs(t, err, tc.ErrTruncated)
	})

	t.Run("data over maximum", func(t *testing.T) {
		_, _, err := tc.ParseRecord(buf, 5)
		require.ErrorIs(t, err, tc.ErrMalformed)
	})

	t.Run("padding", func(t *testing.T) {
		_, _, err := tc.ParseRecord([]byte{0, 0, 0}, tc.MaxDataLength)
		require.ErrorIs(t, err, tc.ErrPadding)
	})
}

func TestParseRecordsStopsAtPadding(t *testing.T) {
	recs := []tc.Record{
		{NodeNbr: 1, EffectiveTime: 1, AssertionTime: 1, Data: []byte("a")},
		{NodeNbr: 2, EffectiveTime: 1, AssertionTime: 1},
	}
	body := tc.AppendRecords(nil, recs)
	body = append(body, make([]byte, 17)...)

	got, err := tc.ParseRecords(body, tc.MaxDataLength)
	require.NoError(t, err)
	require.Equal(t, recs, got)
}

func TestProposal(t *testing.T) {
	recs := []tc.Record{
		{NodeNbr: 1, EffectiveTime: 5, AssertionTime: 1, Data: []byte("a")},
		{NodeNbr: 1, EffectiveTime: 9, AssertionTime: 1, Data: []byte("b")},
		{NodeNbr: 4, EffectiveTime: 2, AssertionTime: 1},
	}

	t.Run("round trip", func(t *testing.T) {
		id, got, err := tc.DecodeProposal(tc.EncodeProposal(777, recs))
		require.NoError(t, err)
		require.Equal(t, uint32(777), id)
		require.Equal(t, recs, got)
	})

	t.Run("empty", func(t *testing.T) {
		id, got, err := tc.DecodeProposal(tc.EncodeProposal(3, nil))
		require.NoError(t, err)
		require.Equal(t, uint32(3), id)
		require.Empty(t, got)
	})

	t.Run("out of order", func(t *testing.T) {
		swapped := []tc.Record{recs[1], recs[0], recs[2]}
		_, _, err := tc.DecodeProposal(tc.EncodeProposal(1, swapped))
		require.True(t, errors.Is(err, tc.ErrOutOfOrder))
	})

	t.Run("truncated id", func(t *testing.T) {
		_, _, err := tc.DecodeProposal([]byte{1, 2})
		require.ErrorIs(t, err, tc.ErrTruncated)
	})
}

func TestBlockPayload(t *testing.T) {
	h := tc.BlockHeader{Timestamp: 1234, Share: 7}
	h.Hash[0], h.Hash[31] = 0xaa, 0x55
	text := []byte("block-text")

	buf := tc.EncodeBlock(h, text)
	require.Len(t, buf, tc.BlockHeaderLen+len(text))

	gh, gt, err := tc.DecodeBlock(buf)
	require.NoError(t, err)
	require.Equal(t, h, gh)
	require.Equal(t, text, gt)

	_, _, err = tc.DecodeBlock(buf[:tc.BlockHeaderLen])
	require.ErrorIs(t, err, tc.ErrTruncated)
}

func TestKeyOrder(t *testing.T) {
	a := tc.Key{NodeNbr: 1, EffectiveTime: 900}
	b := tc.Key{NodeNbr: 2, EffectiveTime: 1}
	c := tc.Key{NodeNbr: 2, EffectiveTime: 2}

	require.True(t, a.Less(b))
	require.True(t, b.Less(c))
	require.Equal(t, 0, c.Compare(c))
	require.Negative(t, bytes.Compare(a.Bytes(), b.Bytes()))
	require.Negative(t, bytes.Compare(b.Bytes(), c.Bytes()))

	k, ok := tc.KeyFromBytes(c.Bytes())
	require.True(t, ok)
	require.Equal(t, c, k)
}

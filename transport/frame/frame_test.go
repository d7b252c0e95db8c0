package frame_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/transport/frame"
)

func TestFrameRoundTrip(t *testing.T) {
	for _, secret := range [][]byte{nil, []byte("collective-secret")} {
		codec := frame.NewCodec(secret)
		f := &frame.Frame{
			Source:   "ipn:1.0",
			Dest:     "imc:997.0",
			Expires:  time.Unix(0, 1700000000123456789),
			BundleId: "b-1",
			Payload:  []byte("payload"),
		}

		var buf bytes.Buffer
		require.NoError(t, codec.Write(&buf, f))

		got, err := codec.Read(&buf)
		require.NoError(t, err)
		require.Equal(t, f.Source, got.Source)
		require.Equal(t, f.Dest, got.Dest)
		require.True(t, f.Expires.Equal(got.Expires))
		require.Equal(t, f.BundleId, got.BundleId)
		require.Equal(t, f.Payload, got.Payload)
	}
}

func TestFrameNoExpiry(t *testing.T) {
	codec := frame.NewCodec(nil)
	data, err := codec.Marshal(&frame.Frame{Source: "ipn:1.0", Dest: "ipn:2.0"})
	require.NoError(t, err)

	got, err := codec.Unmarshal(data)
	require.NoError(t, err)
	require.True(t, got.Expires.IsZero())
	require.Empty(t, got.Payload)
}

func TestFrameMAC(t *testing.T) {
	sender := frame.NewCodec([]byte("secret-a"))
	data, err := sender.Marshal(&frame.Frame{Source: "ipn:1.0", Dest: "ipn:2.0", Payload: []byte("x")})
	require.NoError(t, err)

	_, err = frame.NewCodec([]byte("secret-b")).Unmarshal(data)
	require.ErrorIs(t, err, frame.ErrBadMAC)

	data[3] ^= 0xff
	_, err = sender.Unmarshal(data)
	require.ErrorIs(t, err, frame.ErrBadMAC)
}

func TestFrameMalformed(t *testing.T) {
	codec := frame.NewCodec(nil)
	data, err := codec.Marshal(&frame.Frame{Source: "ipn:1.0", Dest: "ipn:2.0", Payload: []byte("abc")})
	require.NoError(t, err)

	_, err = codec.Unmarshal(data[:len(data)-1])
	require.ErrorIs(t, err, frame.ErrBadFrame)

	_, err = codec.Unmarshal(append(data, 0))
	require.ErrorIs(t, err, frame.ErrBadFrame)

	data[0] = 0
	_, err = codec.Unmarshal(data)
	require.ErrorIs(t, err, frame.ErrBadFrame)
}

func TestInbox(t *testing.T) {
	done := make(chan struct{})
	in := frame.NewInbox("ipn:5.0", []string{"imc:998.0"}, done)
	ctx := context.Background()

	require.True(t, in.Deliver(&frame.Frame{Source: "ipn:1.0", Dest: "imc:997.0", Payload: []byte("other group")}))
	require.True(t, in.Deliver(&frame.Frame{Source: "ipn:1.0", Dest: "imc:998.0", Expires: time.Now().Add(-time.Second), Payload: []byte("expired")}))
	require.True(t, in.Deliver(&frame.Frame{Source: "ipn:1.0", Dest: "imc:998.0", BundleId: "dup", Payload: []byte("first")}))
	require.True(t, in.Deliver(&frame.Frame{Source: "ipn:1.0", Dest: "imc:998.0", BundleId: "dup", Payload: []byte("second")}))
	require.True(t, in.Deliver(&frame.Frame{Source: "ipn:2.0", Dest: "ipn:5.0", Payload: []byte("direct")}))

	d, err := in.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "first", string(d.Payload))

	d, err = in.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "direct", string(d.Payload))
	require.Equal(t, "ipn:2.0", d.Source)

	_, err = in.Receive(ctx, 20*time.Millisecond)
	require.ErrorIs(t, err, core.ErrTimeout)

	close(done)
	_, err = in.Receive(ctx, 0)
	require.ErrorIs(t, err, core.ErrStopped)
}

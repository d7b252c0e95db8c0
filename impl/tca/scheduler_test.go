package tca_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/impl/tc"
	"github.com/usernamenenad/trusted-collective/impl/tca"
	"github.com/usernamenenad/trusted-collective/store/memstore"
	"github.com/usernamenenad/trusted-collective/transport/membus"
)

func TestNextCompilation(t *testing.T) {
	tests := []struct {
		now      int64
		interval time.Duration
		want     uint32
	}{
		{now: 0, interval: time.Second, want: 1},
		{now: 1_700_000_000, interval: 10 * time.Second, want: 1_700_000_010},
		{now: 1_700_000_009, interval: 10 * time.Second, want: 1_700_000_010},
		{now: 1_700_000_001, interval: time.Minute, want: 1_700_000_040},
	}
	for _, tt := range tests {
		got := tca.NextCompilation(time.Unix(tt.now, 0), tt.interval)
		require.Equal(t, tt.want, got, "now=%d interval=%v", tt.now, tt.interval)
	}
}

func TestBeginCycleSkipsMissedCycles(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	_, err := tca.Initialize(st, settings(3))
	require.NoError(t, err)

	// the process slept through several cycles
	now := time.Unix(cycleID+35, 0)
	a, err := tca.New(tca.Options{Node: 1, Store: st, Now: func() time.Time { return now }})
	require.NoError(t, err)

	c, next, err := a.BeginCycle(cycleID)
	require.NoError(t, err)
	require.Equal(t, uint32(cycleID), c.ID)
	require.Equal(t, time.Unix(cycleID, 0), c.FireAt)
	require.Equal(t, c.FireAt.Add(2*time.Second), c.Deadline)
	require.Equal(t, uint32(cycleID+40), next)
}

func TestScheduleRunsCycles(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := settings(2)
	s.CompilationInterval = time.Second
	s.ConsensusInterval = 300 * time.Millisecond
	s.WakeLead = 200 * time.Millisecond

	bus := membus.NewBus()
	client := bus.Open("ipn:500.0", groups.Blocks)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 2)

	auths := make([]*tca.Authority, 2)
	for i := range auths {
		st := memstore.New()
		defer st.Close()
		_, err := tca.Initialize(st, s)
		require.NoError(t, err)

		ep := bus.Open(core.NodeEndpoint(core.NodeNbr(i+1), 0), groups.Records, groups.Bulletins)
		defer ep.Close()

		a, err := tca.New(tca.Options{Node: core.NodeNbr(i + 1), Store: st, Transport: ep})
		require.NoError(t, err)
		_, err = a.HandleSubmission(ctx, submission("ipn:100.1", record(100, "key")))
		require.NoError(t, err)
		auths[i] = a
	}
	// start the clocks clear of a second boundary so that every authority
	// picks the same first cycle
	time.Sleep(time.Until(time.Now().Truncate(time.Second).Add(time.Second + 100*time.Millisecond)))
	for _, a := range auths {
		go func() { done <- a.Run(ctx) }()
	}

	d, err := client.Receive(ctx, 5*time.Second)
	require.NoError(t, err)
	h, _, err := tc.DecodeBlock(d.Payload)
	require.NoError(t, err)
	require.LessOrEqual(t, int64(h.Timestamp), time.Now().Unix())

	require.Eventually(t, func() bool {
		for _, a := range auths {
			current, err := a.Current()
			if err != nil || len(current) != 1 {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	for range auths {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("authority did not stop")
		}
	}
}

package tcc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/impl/tc"
	"github.com/usernamenenad/trusted-collective/impl/tca"
	"github.com/usernamenenad/trusted-collective/impl/tcc"
	"github.com/usernamenenad/trusted-collective/store/memstore"
	"github.com/usernamenenad/trusted-collective/transport/membus"
)

// runCollective starts three authorities and one client on bus, submits
// recs and returns the first bulletin the client reconstructs.
func runCollective(t *testing.T, bus *membus.Bus, recs []tc.Record) []byte {
	t.Helper()

	groups := tc.DefaultGroups(977)
	nodes := authorityNodes(3)
	members := make([]tca.Member, len(nodes))
	for i, n := range nodes {
		members[i] = tca.Member{Node: n, InService: true}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	auths := make([]*tca.Authority, len(nodes))
	for i, n := range nodes {
		st := memstore.New()
		defer st.Close()
		_, err := tca.Initialize(st, tca.Settings{
			Diffusion:           2,
			Redundancy:          1,
			Authorities:         members,
			Groups:              groups,
			CompilationInterval: time.Second,
			ConsensusInterval:   300 * time.Millisecond,
			WakeLead:            200 * time.Millisecond,
		})
		require.NoError(t, err)

		ep := bus.Open(core.NodeEndpoint(n, 0), groups.Records, groups.Bulletins)
		defer ep.Close()
		a, err := tca.New(tca.Options{Node: n, Store: st, Transport: ep})
		require.NoError(t, err)
		auths[i] = a
		g.Go(func() error { return a.Serve(gctx) })
	}

	cst := memstore.New()
	defer cst.Close()
	_, err := tcc.Initialize(cst, tcc.Settings{
		Diffusion:      2,
		Redundancy:     1,
		Authorities:    nodes,
		Blocks:         groups.Blocks,
		MaxCompromised: 1,
	})
	require.NoError(t, err)
	cep := bus.Open("ipn:500.0", groups.Blocks)
	defer cep.Close()
	client, err := tcc.New(tcc.Options{Store: cst, Transport: cep})
	require.NoError(t, err)
	defer client.Close()
	g.Go(func() error { return client.Serve(gctx) })

	for _, r := range recs {
		sub := bus.Open(core.NodeEndpoint(core.NodeNbr(r.NodeNbr), 1))
		_, err := sub.Send(ctx, groups.Records, tc.Serialize(&r), time.Minute)
		require.NoError(t, err)
		sub.Close()
	}

	// every authority holds every record before the first cycle freezes
	require.Eventually(t, func() bool {
		for _, a := range auths {
			pending, err := a.Pending()
			if err != nil || len(pending) != len(recs) {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	// start the clocks clear of a second boundary so that every authority
	// picks the same first cycle
	time.Sleep(time.Until(time.Now().Truncate(time.Second).Add(time.Second + 100*time.Millisecond)))
	for _, a := range auths {
		g.Go(func() error { return a.Schedule(gctx) })
	}

	bctx, bcancel := context.WithTimeout(ctx, 10*time.Second)
	defer bcancel()
	content, err := client.GetBulletin(bctx)
	require.NoError(t, err)

	cancel()
	require.NoError(t, g.Wait())
	return content
}

func testRecords() []tc.Record {
	return []tc.Record{
		{NodeNbr: 21, EffectiveTime: 1_690_000_000, AssertionTime: 1_689_000_000, Data: []byte("key of 21")},
		{NodeNbr: 22, EffectiveTime: 1_690_000_000, AssertionTime: 1_689_000_000},
		{NodeNbr: 23, EffectiveTime: 1_690_000_100, AssertionTime: 1_689_000_000, Data: []byte("key of 23")},
	}
}

func TestEndToEndPublication(t *testing.T) {
	defer goleak.VerifyNone(t)

	recs := testRecords()
	content := runCollective(t, membus.NewBus(), recs)

	got, err := tc.ParseRecords(content, tc.MaxDataLength)
	require.NoError(t, err)
	require.Equal(t, recs, got)
}

func TestEndToEndCorruptAuthority(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := membus.NewBus()
	corrupt := core.NodeEndpoint(1, 0)
	bus.SetFilter(func(to string, d core.Delivery) (core.Delivery, bool) {
		if d.Source == corrupt && len(d.Payload) > tc.BlockHeaderLen && to == "ipn:500.0" {
			for i := tc.BlockHeaderLen; i < len(d.Payload); i++ {
				d.Payload[i] ^= 0xff
			}
		}
		return d, true
	})

	recs := testRecords()
	content := runCollective(t, bus, recs)

	got, err := tc.ParseRecords(content, tc.MaxDataLength)
	require.NoError(t, err)
	require.Equal(t, recs, got)
}

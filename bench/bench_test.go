// Package bench compares TCP and QUIC as the dissemination layer of a
// trusted collective and measures the client side erasure decoding.
//
// Benchmarks:
//  1. Connection setup time   – full mesh between authorities and a client
//  2. Bulletin latency        – one proposal from an authority to a peer
//  3. Block fan-out           – sustained block multicast to the blocks group
//  4. Payload size scaling    – block throughput vs block size (128B → 64KB)
//  5. HOL-blocking resistance – proposal latency under a block flood
//  6. Encode                  – K-of-M encoding of one bulletin
//  7. Reconstruct             – decoding with and without corrupt authorities
package bench

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/impl/tc"
	"github.com/usernamenenad/trusted-collective/impl/tcc"
	bftquic "github.com/usernamenenad/trusted-collective/transport/bft-quic"
	bfttcp "github.com/usernamenenad/trusted-collective/transport/bft-tcp"
	"github.com/usernamenenad/trusted-collective/transport/frame"
)

// ─── helpers ────────────────────────────────────────────────────────────────

var groups = tc.DefaultGroups(977)

type connector interface {
	core.Transport
	Addr() string
	Connect(peers map[string]string)
	WaitForReady()
}

// transportFactory abstracts creation of a full-mesh transport network.
type transportFactory struct {
	name string
	open func(eid string, joined []string) (connector, error)
}

func tcpFactory() transportFactory {
	codec := frame.NewCodec(nil)
	return transportFactory{
		name: "TCP",
		open: func(eid string, joined []string) (connector, error) {
			return bfttcp.NewTCPTransport(eid, "127.0.0.1:0", joined, codec, nil)
		},
	}
}

func quicFactory() transportFactory {
	codec := frame.NewCodec(nil)
	return transportFactory{
		name: "QUIC",
		open: func(eid string, joined []string) (connector, error) {
			return bftquic.NewQUICTransport(eid, "127.0.0.1:0", joined, codec, nil, nil)
		},
	}
}

// quicMultistreamFactory sends blocks on the data stream and everything
// else on the control stream.
func quicMultistreamFactory() transportFactory {
	codec := frame.NewCodec(nil)
	cls := bftquic.GroupClassifier{groups.Blocks: true}
	return transportFactory{
		name: "QUIC-multistream",
		open: func(eid string, joined []string) (connector, error) {
			return bftquic.NewQUICTransport(eid, "127.0.0.1:0", joined, codec, cls, nil)
		},
	}
}

// setup opens one transport per entry of members, keyed by endpoint id,
// and wires them into a full mesh.
func (f transportFactory) setup(b *testing.B, members [][]string) ([]connector, func()) {
	b.Helper()
	trs := make([]connector, len(members))
	ids := make([]string, len(members))
	for i, grps := range members {
		ids[i] = core.NodeEndpoint(core.NodeNbr(i+1), 0)
		tr, err := f.open(ids[i], grps)
		if err != nil {
			b.Fatalf("%s create %s: %v", f.name, ids[i], err)
		}
		trs[i] = tr
	}
	for i, tr := range trs {
		peers := make(map[string]string)
		for j, pr := range trs {
			if j != i {
				peers[ids[j]] = pr.Addr()
			}
		}
		tr.Connect(peers)
	}
	return trs, func() {
		for _, tr := range trs {
			tr.Close()
		}
	}
}

// collective is n authorities joined to the bulletins group and one
// client joined to the blocks group, in that order.
func collective(n int) [][]string {
	members := make([][]string, 0, n+1)
	for range n {
		members = append(members, []string{groups.Records, groups.Bulletins})
	}
	return append(members, []string{groups.Blocks})
}

func waitReady(trs []connector) {
	for _, tr := range trs {
		tr.WaitForReady()
	}
}

// drain discards everything tr receives until it is closed.
func drain(tr core.Transport) {
	go func() {
		for {
			if _, err := tr.Receive(context.Background(), 0); err != nil {
				return
			}
		}
	}()
}

func payload(size int) []byte {
	p := make([]byte, size)
	for j := range p {
		p[j] = byte(j % 256)
	}
	return p
}

// ─── 1. Connection Setup Time ──────────────────────────────────────────────

func benchConnSetup(b *testing.B, factory transportFactory, n int) {
	for i := 0; i < b.N; i++ {
		b.StartTimer()
		trs, cleanup := factory.setup(b, collective(n))
		waitReady(trs)
		b.StopTimer()
		cleanup()
	}
}

func BenchmarkConnSetup_TCP_4(b *testing.B)  { b.StopTimer(); benchConnSetup(b, tcpFactory(), 4) }
func BenchmarkConnSetup_QUIC_4(b *testing.B) { b.StopTimer(); benchConnSetup(b, quicFactory(), 4) }
func BenchmarkConnSetup_TCP_7(b *testing.B)  { b.StopTimer(); benchConnSetup(b, tcpFactory(), 7) }
func BenchmarkConnSetup_QUIC_7(b *testing.B) { b.StopTimer(); benchConnSetup(b, quicFactory(), 7) }

// ─── 2. Bulletin Latency ───────────────────────────────────────────────────
// One proposed bulletin from authority 1 until authority 2 receives it.

func benchBulletinLatency(b *testing.B, factory transportFactory) {
	trs, cleanup := factory.setup(b, [][]string{nil, {groups.Bulletins}})
	defer cleanup()
	waitReady(trs)

	recs := []tc.Record{{NodeNbr: 7, EffectiveTime: 1, AssertionTime: 1, Data: []byte("ping")}}
	proposal := tc.EncodeProposal(1, recs)

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := trs[0].Send(ctx, groups.Bulletins, proposal, time.Minute); err != nil {
			b.Fatal(err)
		}
		if _, err := trs[1].Receive(ctx, 10*time.Second); err != nil {
			b.Fatalf("iter %d: %v", i, err)
		}
	}
}

func BenchmarkBulletinLatency_TCP(b *testing.B)  { benchBulletinLatency(b, tcpFactory()) }
func BenchmarkBulletinLatency_QUIC(b *testing.B) { benchBulletinLatency(b, quicFactory()) }

// ─── 3. Block Fan-out ──────────────────────────────────────────────────────
// Authority 1 multicasts blocks to a collective of four authorities and a
// client; measures blocks/sec.

func benchFanout(b *testing.B, factory transportFactory, size int) {
	trs, cleanup := factory.setup(b, collective(4))
	defer cleanup()
	waitReady(trs)
	for _, tr := range trs {
		drain(tr)
	}

	block := tc.EncodeBlock(tc.BlockHeader{Timestamp: 1, Share: 0}, payload(size))

	ctx := context.Background()
	b.ResetTimer()
	b.SetBytes(int64(len(block)))
	for i := 0; i < b.N; i++ {
		if _, err := trs[0].Send(ctx, groups.Blocks, block, time.Minute); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFanout_TCP(b *testing.B)  { benchFanout(b, tcpFactory(), 256) }
func BenchmarkFanout_QUIC(b *testing.B) { benchFanout(b, quicFactory(), 256) }

// ─── 4. Payload Size Scaling ───────────────────────────────────────────────

func BenchmarkPayload128B_TCP(b *testing.B)  { benchFanout(b, tcpFactory(), 128) }
func BenchmarkPayload128B_QUIC(b *testing.B) { benchFanout(b, quicFactory(), 128) }
func BenchmarkPayload1KB_TCP(b *testing.B)   { benchFanout(b, tcpFactory(), 1024) }
func BenchmarkPayload1KB_QUIC(b *testing.B)  { benchFanout(b, quicFactory(), 1024) }
func BenchmarkPayload16KB_TCP(b *testing.B)  { benchFanout(b, tcpFactory(), 16*1024) }
func BenchmarkPayload16KB_QUIC(b *testing.B) { benchFanout(b, quicFactory(), 16*1024) }
func BenchmarkPayload64KB_TCP(b *testing.B)  { benchFanout(b, tcpFactory(), 64*1024) }
func BenchmarkPayload64KB_QUIC(b *testing.B) { benchFanout(b, quicFactory(), 64*1024) }

// ─── 5. HOL-Blocking Resistance ────────────────────────────────────────────
// Floods the blocks group while measuring proposal latency to a peer that
// is in both groups. With the multistream classifier QUIC carries blocks on
// the data stream; TCP shares one connection and write mutex.

func benchHOL(b *testing.B, factory transportFactory) {
	trs, cleanup := factory.setup(b, [][]string{nil, {groups.Bulletins, groups.Blocks}})
	defer cleanup()
	waitReady(trs)

	ctx := context.Background()
	proposal := tc.EncodeProposal(1, nil)
	block := tc.EncodeBlock(tc.BlockHeader{Timestamp: 1}, payload(64*1024))

	const flood = 50

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range flood {
				trs[0].Send(ctx, groups.Blocks, block, time.Minute)
			}
		}()

		time.Sleep(100 * time.Microsecond)
		start := time.Now()
		trs[0].Send(ctx, groups.Bulletins, proposal, time.Minute)

		var (
			blocksReceived int
			bulletinSeen   bool
			elapsed        time.Duration
		)
		for blocksReceived < flood || !bulletinSeen {
			d, err := trs[1].Receive(ctx, 10*time.Second)
			if err != nil {
				b.Fatalf("HOL iter %d: %v (blocks=%d, bulletin=%v)", i, err, blocksReceived, bulletinSeen)
			}
			switch d.Dest {
			case groups.Bulletins:
				if !bulletinSeen {
					elapsed = time.Since(start)
					bulletinSeen = true
				}
			case groups.Blocks:
				blocksReceived++
			}
		}
		b.ReportMetric(float64(elapsed.Nanoseconds()), "ns/bulletin")
		wg.Wait()
	}
}

func BenchmarkHOLBlocking_TCP(b *testing.B)  { benchHOL(b, tcpFactory()) }
func BenchmarkHOLBlocking_QUIC(b *testing.B) { benchHOL(b, quicMultistreamFactory()) }

// ─── 6. Encode ─────────────────────────────────────────────────────────────

func newCoder(b *testing.B, k int, r float64, a int) *tc.Coder {
	b.Helper()
	fec, err := tc.NewFEC(k, r, a)
	if err != nil {
		b.Fatal(err)
	}
	coder, err := tc.NewCoder(fec)
	if err != nil {
		b.Fatal(err)
	}
	return coder
}

func benchEncode(b *testing.B, k, a, size int) {
	coder := newCoder(b, k, 1, a)
	content := payload(size)

	b.ResetTimer()
	b.SetBytes(int64(size))
	for i := 0; i < b.N; i++ {
		if _, _, err := coder.Encode(content); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncode_K4_A4_16KB(b *testing.B)   { benchEncode(b, 4, 4, 16*1024) }
func BenchmarkEncode_K8_A4_16KB(b *testing.B)   { benchEncode(b, 8, 4, 16*1024) }
func BenchmarkEncode_K16_A7_256KB(b *testing.B) { benchEncode(b, 16, 7, 256*1024) }

// ─── 7. Reconstruct ────────────────────────────────────────────────────────
// Every authority contributes its primary and backup copies; the corrupt
// ones flip their block texts so the search has to exclude them.

func collected(b *testing.B, coder *tc.Coder, content []byte, corrupt ...int) ([]tcc.Share, [tc.HashLen]byte) {
	b.Helper()
	fec := coder.FEC()
	hash, blocks, err := coder.Encode(content)
	if err != nil {
		b.Fatal(err)
	}

	bad := make(map[int]bool, len(corrupt))
	for _, c := range corrupt {
		bad[c] = true
	}

	shares := make([]tcc.Share, fec.M)
	for a := range fec.Authorities {
		for _, s := range fec.Shares(a) {
			text := append([]byte(nil), blocks[s]...)
			if bad[a] {
				for j := range text {
					text[j] ^= 0x5a
				}
			}
			slot, _ := fec.Classify(a, s)
			shares[s].Blocks[slot] = &tcc.Block{Source: a, Text: text}
		}
	}
	return shares, hash
}

func benchReconstruct(b *testing.B, k, a int, corrupt ...int) {
	coder := newCoder(b, k, 1, a)
	content := payload(16 * 1024)
	shares, hash := collected(b, coder, content, corrupt...)

	b.ResetTimer()
	b.SetBytes(int64(len(content)))
	attempts := 0
	for i := 0; i < b.N; i++ {
		search, ok := tcc.Reconstruct(coder, shares, hash, tcc.DefaultMaxCompromised)
		if !ok {
			b.Fatalf("no reconstruction with %d corrupt authorities", len(corrupt))
		}
		attempts += search.Attempts
	}
	b.ReportMetric(float64(attempts)/float64(b.N), "attempts/op")
}

func BenchmarkReconstruct_Honest_K4_A4(b *testing.B) { benchReconstruct(b, 4, 4) }
func BenchmarkReconstruct_OneBad_K4_A4(b *testing.B) { benchReconstruct(b, 4, 4, 0) }
func BenchmarkReconstruct_TwoBad_K4_A4(b *testing.B) { benchReconstruct(b, 4, 4, 0, 1) }
func BenchmarkReconstruct_Honest_K8_A7(b *testing.B) { benchReconstruct(b, 8, 7) }
func BenchmarkReconstruct_TwoBad_K8_A7(b *testing.B) { benchReconstruct(b, 8, 7, 2, 5) }

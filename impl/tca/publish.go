package tca

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/renameio/v2"
	"go.uber.org/zap"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/impl/tc"
	"github.com/usernamenenad/trusted-collective/store"
)

var errStopWalk = errors.New("stop walk")

// Propose freezes every pending record into cycle id and multicasts the
// proposed bulletin to the collective.
func (a *Authority) Propose(ctx context.Context, id uint32) error {
	var recs []tc.Record
	err := a.store.Update(func(txn core.Txn) error {
		recs = recs[:0]
		return eachPending(txn, func(key []byte, p *pendingRecord) error {
			recs = append(recs, p.Record)
			if p.Proposed == id {
				return nil
			}
			p.Proposed = id
			return store.Put(txn, key, p)
		})
	})
	if err != nil {
		return err
	}

	payload := tc.EncodeProposal(id, recs)
	if err := a.spool(id, payload); err != nil {
		a.logger.Warn("spool proposal", zap.Uint32("cycle", id), zap.Error(err))
	}

	if _, err := a.network.Send(ctx, a.params.Groups.Bulletins, payload, a.params.ConsensusInterval); err != nil {
		a.logger.Warn("send proposal", zap.Uint32("cycle", id), zap.Error(err))
		return nil
	}
	a.metrics.ProposalsSent.Inc()
	a.logger.Info("bulletin proposed", zap.Uint32("cycle", id), zap.Int("records", len(recs)))
	return nil
}

func spoolName(id uint32) string {
	return fmt.Sprintf("proposal-%010d.bin", id)
}

// spool writes the proposal payload atomically and removes the payloads of
// earlier cycles.
func (a *Authority) spool(id uint32, payload []byte) error {
	if a.spoolDir == "" {
		return nil
	}
	if err := os.MkdirAll(a.spoolDir, 0o755); err != nil {
		return err
	}
	if err := renameio.WriteFile(filepath.Join(a.spoolDir, spoolName(id)), payload, 0o644); err != nil {
		return err
	}

	entries, err := os.ReadDir(a.spoolDir)
	if err != nil {
		return err
	}
	keep := spoolName(id)
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "proposal-") && name < keep {
			_ = os.Remove(filepath.Join(a.spoolDir, name))
		}
	}
	return nil
}

// HandleProposal matches a peer's proposed bulletin against the pending
// list and records that peer's acknowledgment of every record it carries.
// Rejections are logged and reported as false; only store failures are
// returned as errors.
func (a *Authority) HandleProposal(ctx context.Context, d core.Delivery) (bool, error) {
	idx, err := a.validator.Proposer(d.Source)
	if err != nil {
		a.rejectProposal("unknown source", d.Source, zap.Error(err))
		return false, nil
	}
	if idx == a.index {
		return false, nil
	}

	id, recs, err := tc.DecodeProposal(d.Payload)
	if err != nil {
		a.rejectProposal("malformed", d.Source, zap.Error(err))
		return false, nil
	}

	digest := xxhash.Sum64(d.Payload)
	var (
		current     uint32
		replay      bool
		equivocated bool
		matched     int
	)
	err = a.store.Update(func(txn core.Txn) error {
		replay, equivocated, matched = false, false, 0

		s, err := loadSchedule(txn)
		if err != nil {
			return err
		}
		current = s.Current
		if id != s.Current {
			return nil
		}

		var seen proposalSeen
		found, err := store.Found(store.Get(txn, proposalKey(idx), &seen))
		if err != nil {
			return err
		}
		if found && seen.Cycle == id {
			if seen.Digest == digest {
				replay = true
				return nil
			}
			equivocated = true
			return eachPending(txn, func(key []byte, p *pendingRecord) error {
				p.Acks[idx] = AckDisagree
				return store.Put(txn, key, p)
			})
		}
		if err := store.Put(txn, proposalKey(idx), &proposalSeen{Cycle: id, Digest: digest}); err != nil {
			return err
		}

		matched, err = a.match(txn, idx, recs)
		return err
	})
	if err != nil {
		return false, err
	}

	switch {
	case id != current:
		a.rejectProposal("wrong cycle", d.Source, zap.Uint32("cycle", id), zap.Uint32("current", current))
		return false, nil
	case replay:
		a.logger.Debug("replayed proposal ignored", zap.Int("peer", idx), zap.Uint32("cycle", id))
		return false, nil
	case equivocated:
		a.rejectProposal("equivocation", d.Source, zap.Int("peer", idx), zap.Uint32("cycle", id))
		return false, nil
	}

	a.logger.Debug("proposal matched",
		zap.Int("peer", idx),
		zap.Uint32("cycle", id),
		zap.Int("records", len(recs)),
		zap.Int("matched", matched))
	return true, nil
}

// match walks the peer's records and the pending list in parallel, both
// in key order. The first verdict for a record stands.
func (a *Authority) match(txn core.Txn, idx int, recs []tc.Record) (int, error) {
	matched, j := 0, 0
	err := eachPending(txn, func(key []byte, p *pendingRecord) error {
		local := p.Record.Key()
		for j < len(recs) && recs[j].Key().Less(local) {
			j++
		}
		if j == len(recs) {
			return errStopWalk
		}
		if recs[j].Key() != local {
			return nil
		}

		if p.Acks[idx] == AckNone {
			if p.Record.SameContent(&recs[j]) {
				p.Acks[idx] = AckAgree
			} else {
				p.Acks[idx] = AckDisagree
			}
			matched++
			if err := store.Put(txn, key, p); err != nil {
				return err
			}
		}
		for j < len(recs) && recs[j].Key() == local {
			j++
		}
		return nil
	})
	if errors.Is(err, errStopWalk) {
		err = nil
	}
	return matched, err
}

func (a *Authority) rejectProposal(reason, source string, fields ...zap.Field) {
	a.metrics.ProposalsRejected.WithLabelValues(reason).Inc()
	a.logger.Warn("proposal rejected", append([]zap.Field{zap.String("reason", reason), zap.String("source", source)}, fields...)...)
}

type droppedRecord struct {
	key  tc.Key
	acks []Ack
}

// Finalize ends the grace period of cycle id. Records frozen into the cycle
// that every in-service authority agreed on are published, the rest are
// dropped. Publication is skipped when nothing reached consensus.
func (a *Authority) Finalize(ctx context.Context, id uint32) error {
	var (
		published []tc.Record
		dropped   []droppedRecord
	)
	err := a.store.Update(func(txn core.Txn) error {
		published, dropped = published[:0], dropped[:0]
		err := eachPending(txn, func(key []byte, p *pendingRecord) error {
			if p.Proposed != id {
				return nil
			}
			if a.validator.Unanimous(p.Acks) {
				published = append(published, p.Record)
			} else {
				dropped = append(dropped, droppedRecord{key: p.Record.Key(), acks: p.Acks})
			}
			return txn.Delete(key)
		})
		if err != nil || len(published) == 0 {
			return err
		}

		if err := store.DeletePrefix(txn, currentPrefix); err != nil {
			return err
		}
		for i := range published {
			if err := store.Put(txn, currentKey(published[i].Key()), &published[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, r := range dropped {
		a.metrics.RecordsDropped.Inc()
		a.logger.Warn("record dropped without consensus",
			zap.Uint32("cycle", id),
			zap.Uint64("recordNode", r.key.NodeNbr),
			zap.Uint32("effectiveTime", r.key.EffectiveTime),
			zap.Stringers("acks", r.acks))
	}

	if len(published) == 0 {
		a.metrics.BulletinsSkipped.Inc()
		a.logger.Debug("no consensus records, publication skipped", zap.Uint32("cycle", id))
		return nil
	}

	if a.params.Hijacked {
		for i := range published {
			published[i].EffectiveTime = 0
		}
	}

	a.metrics.RecordsPublished.Add(float64(len(published)))
	a.publish(ctx, id, tc.AppendRecords(nil, published))
	return nil
}

// publish erasure-codes the bulletin and sends this authority's primary
// and backup shares to the blocks group.
func (a *Authority) publish(ctx context.Context, id uint32, content []byte) {
	hash, blocks, err := a.coder.Encode(content)
	if err != nil {
		a.logger.Error("encode bulletin", zap.Uint32("cycle", id), zap.Error(err))
		return
	}

	fec := a.params.FEC
	sent := 0
	for _, share := range fec.Shares(a.index) {
		payload := tc.EncodeBlock(tc.BlockHeader{Timestamp: id, Hash: hash, Share: uint32(share)}, blocks[share])
		if _, err := a.network.Send(ctx, a.params.Groups.Blocks, payload, a.params.BundleTTL); err != nil {
			a.logger.Warn("send block", zap.Uint32("cycle", id), zap.Int("share", share), zap.Error(err))
			continue
		}
		sent++
	}
	a.metrics.SharesSent.Add(float64(sent))

	a.logger.Info("bulletin published",
		zap.Uint32("cycle", id),
		zap.Int("bytes", len(content)),
		zap.Int("blockSize", len(blocks[0])),
		zap.Int("shares", sent))
}

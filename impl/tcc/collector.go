package tcc

import (
	"context"

	"go.uber.org/zap"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/impl/tc"
	"github.com/usernamenenad/trusted-collective/store"
)

type outcome int

const (
	stored outcome = iota
	stale
	duplicate
	reconstructed
)

// HandleBlock stores one block sent by an authority and, once K shares of
// its bulletin are known, tries to reconstruct the bulletin. Rejections are
// logged and reported as false; only store failures are returned.
func (c *Client) HandleBlock(ctx context.Context, d core.Delivery) (bool, error) {
	h, text, err := tc.DecodeBlock(d.Payload)
	if err != nil {
		c.rejectBlock("malformed", d.Source, zap.Error(err))
		return false, nil
	}

	node, err := core.ParseNode(d.Source)
	if err != nil {
		c.rejectBlock("unknown source", d.Source, zap.Error(err))
		return false, nil
	}
	src, ok := c.params.index(node)
	if !ok {
		c.rejectBlock("unknown source", d.Source)
		return false, nil
	}

	fec := c.params.FEC
	share := int(h.Share)
	slot, ok := fec.Classify(src, share)
	if !ok {
		c.rejectBlock("share out of range", d.Source, zap.Int("authority", src), zap.Int("share", share))
		return false, nil
	}

	id := bulletinID(h, len(text))
	var (
		result outcome
		search Search
		last   uint32
	)
	err = c.store.Update(func(txn core.Txn) error {
		result, search = stored, Search{}

		var err error
		last, err = loadLast(txn)
		if err != nil {
			return err
		}
		if h.Timestamp <= last {
			result = stale
			return nil
		}

		var b bulletinState
		if _, err := store.Found(store.Get(txn, bulletinKey(id), &b)); err != nil {
			return err
		}

		var s Share
		if _, err := store.Found(store.Get(txn, shareKey(id, share), &s)); err != nil {
			return err
		}
		if s.Blocks[slot] != nil {
			result = duplicate
			return nil
		}
		if s.empty() {
			b.SharesAnnounced++
		}
		s.Blocks[slot] = &Block{Source: src, Text: text}
		if err := store.Put(txn, shareKey(id, share), &s); err != nil {
			return err
		}
		if err := store.Put(txn, bulletinKey(id), &b); err != nil {
			return err
		}

		if b.SharesAnnounced < fec.K {
			return nil
		}
		shares, err := loadShares(txn, id, fec.M)
		if err != nil {
			return err
		}
		var ok bool
		search, ok = Reconstruct(c.coder, shares, h.Hash, c.params.MaxCompromised)
		if !ok {
			return nil
		}

		result = reconstructed
		if err := enqueue(txn, search.Content); err != nil {
			return err
		}
		if err := store.Put(txn, lastKey, uint64(h.Timestamp)); err != nil {
			return err
		}
		return purge(txn, h.Timestamp)
	})
	if err != nil {
		return false, err
	}
	c.metrics.ReconstructionAttempts.Add(float64(search.Attempts))

	switch result {
	case stale:
		c.rejectBlock("stale", d.Source, zap.Uint32("timestamp", h.Timestamp), zap.Uint32("last", last))
		return false, nil
	case duplicate:
		c.logger.Debug("duplicate block ignored", zap.Int("authority", src), zap.Int("share", share))
		return false, nil
	case reconstructed:
		c.metrics.BlocksReceived.Inc()
		c.metrics.BulletinsDelivered.Inc()
		for _, a := range search.Excluded {
			c.metrics.Compromised.WithLabelValues(authorityLabel(a)).Inc()
			c.logger.Warn("authority compromised",
				zap.Int("authority", a),
				zap.Uint64("node", uint64(c.params.Authorities[a])),
				zap.Uint32("timestamp", h.Timestamp))
		}
		c.logger.Info("bulletin reconstructed",
			zap.Uint32("timestamp", h.Timestamp),
			zap.Int("bytes", len(search.Content)),
			zap.Int("attempts", search.Attempts),
			zap.Ints("excluded", search.Excluded))
		c.signal()
		return true, nil
	}

	c.metrics.BlocksReceived.Inc()
	c.logger.Debug("block stored",
		zap.Int("authority", src),
		zap.Int("share", share),
		zap.Stringer("slot", slot),
		zap.Uint32("timestamp", h.Timestamp))
	return true, nil
}

func (c *Client) rejectBlock(reason, source string, fields ...zap.Field) {
	c.metrics.BlocksRejected.WithLabelValues(reason).Inc()
	c.logger.Warn("block rejected", append([]zap.Field{zap.String("reason", reason), zap.String("source", source)}, fields...)...)
}

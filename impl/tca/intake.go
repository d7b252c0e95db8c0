package tca

import (
	"context"

	"go.uber.org/zap"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/impl/tc"
	"github.com/usernamenenad/trusted-collective/store"
)

// HandleSubmission validates a record sent by a client and adds it to the
// pending list. Rejections are logged and reported as false; only store
// failures are returned as errors.
func (a *Authority) HandleSubmission(ctx context.Context, d core.Delivery) (bool, error) {
	rec, _, err := tc.ParseRecord(d.Payload, tc.MaxDataLength)
	if err != nil {
		a.rejectRecord("malformed", d.Source, zap.Error(err))
		return false, nil
	}

	if err := a.validator.AuthorizeSubmitter(d.Source, &rec); err != nil {
		a.rejectRecord("unauthorized", d.Source, zap.Error(err))
		return false, nil
	}

	key := rec.Key()
	var duplicate string
	err = a.store.Update(func(txn core.Txn) error {
		duplicate = ""

		_, err := txn.Get(pendingKey(key))
		found, err := store.Found(err)
		if err != nil {
			return err
		}
		if found {
			duplicate = "pending"
			return nil
		}

		_, err = txn.Get(currentKey(key))
		found, err = store.Found(err)
		if err != nil {
			return err
		}
		if found {
			duplicate = "current"
			return nil
		}

		acks := make([]Ack, len(a.params.Authorities))
		acks[a.index] = AckAgree
		return store.Put(txn, pendingKey(key), &pendingRecord{Record: rec, Acks: acks})
	})
	if err != nil {
		return false, err
	}

	if duplicate != "" {
		a.logger.Debug("duplicate record ignored",
			zap.String("list", duplicate),
			zap.Uint64("recordNode", rec.NodeNbr),
			zap.Uint32("effectiveTime", rec.EffectiveTime))
		a.metrics.RecordsRejected.WithLabelValues("duplicate").Inc()
		return false, nil
	}

	a.metrics.RecordsAccepted.Inc()
	a.logger.Debug("record accepted",
		zap.String("source", d.Source),
		zap.Uint64("recordNode", rec.NodeNbr),
		zap.Uint32("effectiveTime", rec.EffectiveTime),
		zap.Bool("revocation", rec.IsRevocation()))
	return true, nil
}

func (a *Authority) rejectRecord(reason, source string, fields ...zap.Field) {
	a.metrics.RecordsRejected.WithLabelValues(reason).Inc()
	a.logger.Warn("record rejected", append([]zap.Field{zap.String("reason", reason), zap.String("source", source)}, fields...)...)
}

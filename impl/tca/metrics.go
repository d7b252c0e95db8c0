package tca

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RecordsAccepted   prometheus.Counter
	RecordsRejected   *prometheus.CounterVec
	ProposalsSent     prometheus.Counter
	ProposalsRejected *prometheus.CounterVec
	RecordsPublished  prometheus.Counter
	RecordsDropped    prometheus.Counter
	BulletinsSkipped  prometheus.Counter
	SharesSent        prometheus.Counter
}

// NewMetrics creates the authority metrics and registers them with reg
// when it is not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		RecordsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tca",
			Name:      "records_accepted_total",
			Help:      "Submitted records added to the pending list.",
		}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tca",
			Name:      "records_rejected_total",
			Help:      "Submitted records discarded, by reason.",
		}, []string{"reason"}),
		ProposalsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tca",
			Name:      "proposals_sent_total",
			Help:      "Proposed bulletins multicast to the collective.",
		}),
		ProposalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tca",
			Name:      "proposals_rejected_total",
			Help:      "Peer proposals discarded, by reason.",
		}, []string{"reason"}),
		RecordsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tca",
			Name:      "records_published_total",
			Help:      "Records that reached consensus and were published.",
		}),
		RecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tca",
			Name:      "records_dropped_total",
			Help:      "Records dropped for lack of consensus.",
		}),
		BulletinsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tca",
			Name:      "bulletins_skipped_total",
			Help:      "Cycles in which no record reached consensus.",
		}),
		SharesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tca",
			Name:      "shares_sent_total",
			Help:      "Erasure-coded blocks sent to clients.",
		}),
	}

	if reg == nil {
		return m, nil
	}
	err := errors.Join(
		reg.Register(m.RecordsAccepted),
		reg.Register(m.RecordsRejected),
		reg.Register(m.ProposalsSent),
		reg.Register(m.ProposalsRejected),
		reg.Register(m.RecordsPublished),
		reg.Register(m.RecordsDropped),
		reg.Register(m.BulletinsSkipped),
		reg.Register(m.SharesSent),
	)
	return m, err
}

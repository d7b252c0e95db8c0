package tcc

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	BlocksReceived         prometheus.Counter
	BlocksRejected         *prometheus.CounterVec
	ReconstructionAttempts prometheus.Counter
	BulletinsDelivered     prometheus.Counter
	Compromised            *prometheus.CounterVec
}

// NewMetrics creates the client metrics and registers them with reg when
// it is not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		BlocksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcc",
			Name:      "blocks_received_total",
			Help:      "Blocks stored for reconstruction.",
		}),
		BlocksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcc",
			Name:      "blocks_rejected_total",
			Help:      "Blocks discarded, by reason.",
		}, []string{"reason"}),
		ReconstructionAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcc",
			Name:      "reconstruction_attempts_total",
			Help:      "Erasure decodes tried, one per exclusion set.",
		}),
		BulletinsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcc",
			Name:      "bulletins_delivered_total",
			Help:      "Bulletins reconstructed and queued for the application.",
		}),
		Compromised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcc",
			Name:      "compromised_authorities_total",
			Help:      "Times an authority's blocks had to be excluded to reconstruct a bulletin.",
		}, []string{"authority"}),
	}

	if reg == nil {
		return m, nil
	}
	err := errors.Join(
		reg.Register(m.BlocksReceived),
		reg.Register(m.BlocksRejected),
		reg.Register(m.ReconstructionAttempts),
		reg.Register(m.BulletinsDelivered),
		reg.Register(m.Compromised),
	)
	return m, err
}

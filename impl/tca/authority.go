package tca

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/impl/tc"
)

// Options configure one authority process.
type Options struct {
	Node      core.NodeNbr
	Store     core.Store
	Transport core.Transport

	// SpoolDir receives a file copy of every proposed bulletin. Empty
	// disables the spool.
	SpoolDir string

	Registerer prometheus.Registerer
	Logger     *zap.Logger

	// Now replaces the wall clock in tests.
	Now func() time.Time
}

// Authority is the per-process context of one member of the collective.
// Every component (intake, scheduler, publisher) hangs off it.
type Authority struct {
	node    core.NodeNbr
	index   int
	params  Params
	store   core.Store
	network core.Transport
	coder   *tc.Coder

	validator *Validator
	spoolDir  string
	now       func() time.Time

	metrics *Metrics
	logger  *zap.Logger
}

// New loads the collective parameters from the store and resolves the
// authority's own roster index.
func New(opts Options) (*Authority, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	params, err := LoadParams(opts.Store)
	if err != nil {
		return nil, err
	}
	index, ok := params.Index(opts.Node)
	if !ok {
		return nil, fmt.Errorf("%w: node %d", ErrNotMember, opts.Node)
	}

	coder, err := tc.NewCoder(params.FEC)
	if err != nil {
		return nil, fmt.Errorf("create erasure coder: %w", err)
	}

	metrics, err := NewMetrics(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return &Authority{
		node:      opts.Node,
		index:     index,
		params:    params,
		store:     opts.Store,
		network:   opts.Transport,
		coder:     coder,
		validator: NewValidator(&params),
		spoolDir:  opts.SpoolDir,
		now:       opts.Now,
		metrics:   metrics,
		logger:    opts.Logger.With(zap.Uint64("node", uint64(opts.Node)), zap.Int("authority", index)),
	}, nil
}

func (a *Authority) Index() int {
	return a.index
}

func (a *Authority) Params() Params {
	return a.params
}

func (a *Authority) Metrics() *Metrics {
	return a.metrics
}

// Run serves the transport and runs the bulletin schedule until ctx is
// done. A store failure in either stops both and is returned.
func (a *Authority) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Serve(ctx) })
	g.Go(func() error { return a.Schedule(ctx) })
	return g.Wait()
}

// Serve receives submissions and peer proposals and dispatches them by
// destination until ctx is done or the transport stops.
func (a *Authority) Serve(ctx context.Context) error {
	for ctx.Err() == nil {
		d, err := a.network.Receive(ctx, 0)
		if errors.Is(err, core.ErrTimeout) {
			continue
		}
		if errors.Is(err, core.ErrStopped) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}

		switch d.Dest {
		case a.params.Groups.Records:
			_, err = a.HandleSubmission(ctx, d)
		case a.params.Groups.Bulletins:
			_, err = a.HandleProposal(ctx, d)
		default:
			a.logger.Debug("ignoring delivery", zap.String("source", d.Source), zap.String("dest", d.Dest))
		}
		if err != nil {
			a.logger.Error("store failure, stopping", zap.Error(err))
			return err
		}
	}
	return nil
}

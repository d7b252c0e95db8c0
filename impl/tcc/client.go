package tcc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/impl/tc"
)

// DefaultPollInterval bounds how long GetBulletin waits before looking at
// the queue again, which picks up bulletins queued by another process
// sharing the store.
const DefaultPollInterval = time.Second

type Options struct {
	Store     core.Store
	Transport core.Transport

	PollInterval time.Duration
	Registerer   prometheus.Registerer
	Logger       *zap.Logger
}

// Client is the per-process context of a bulletin consumer: it collects
// blocks from the collective, reconstructs bulletins and queues them.
type Client struct {
	params  Params
	store   core.Store
	network core.Transport
	coder   *tc.Coder

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	poll      time.Duration

	metrics *Metrics
	logger  *zap.Logger
}

func New(opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	params, err := LoadParams(opts.Store)
	if err != nil {
		return nil, err
	}
	coder, err := tc.NewCoder(params.FEC)
	if err != nil {
		return nil, fmt.Errorf("create erasure coder: %w", err)
	}
	metrics, err := NewMetrics(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return &Client{
		params:  params,
		store:   opts.Store,
		network: opts.Transport,
		coder:   coder,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		poll:    opts.PollInterval,
		metrics: metrics,
		logger:  opts.Logger,
	}, nil
}

func (c *Client) Params() Params {
	return c.params
}

func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// Serve collects blocks until ctx is done or the transport stops.
func (c *Client) Serve(ctx context.Context) error {
	for ctx.Err() == nil {
		d, err := c.network.Receive(ctx, 0)
		if errors.Is(err, core.ErrTimeout) {
			continue
		}
		if errors.Is(err, core.ErrStopped) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		if _, err := c.HandleBlock(ctx, d); err != nil {
			c.logger.Error("store failure, stopping", zap.Error(err))
			return err
		}
	}
	return nil
}

// Close wakes every GetBulletin caller with core.ErrStopped.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// GetBulletin blocks until a reconstructed bulletin is queued and returns
// the oldest one. It returns empty content and core.ErrStopped once the
// client is closed or ctx is done.
func (c *Client) GetBulletin(ctx context.Context) ([]byte, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		var (
			content []byte
			found   bool
		)
		err := c.store.Update(func(txn core.Txn) error {
			var err error
			content, found, err = dequeue(txn)
			return err
		})
		if err != nil {
			return nil, err
		}
		if found {
			return content, nil
		}

		select {
		case <-c.notify:
		case <-ticker.C:
		case <-c.done:
			return nil, core.ErrStopped
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", core.ErrStopped, ctx.Err())
		}
	}
}

func (c *Client) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func authorityLabel(idx int) string {
	return strconv.Itoa(idx)
}

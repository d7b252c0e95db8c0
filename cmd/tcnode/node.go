package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/internal/admin"
	"github.com/usernamenenad/trusted-collective/internal/config"
	"github.com/usernamenenad/trusted-collective/internal/logx"
	"github.com/usernamenenad/trusted-collective/store/badgerstore"
	"github.com/usernamenenad/trusted-collective/store/memstore"
	bftquic "github.com/usernamenenad/trusted-collective/transport/bft-quic"
	bfttcp "github.com/usernamenenad/trusted-collective/transport/bft-tcp"
	"github.com/usernamenenad/trusted-collective/transport/frame"
)

// node holds the resources shared by every tcnode command.
type node struct {
	cfg      *config.Config
	logs     *logx.Manager
	logger   *zap.Logger
	registry *prometheus.Registry
	store    core.Store
}

func openNode(path, role string) (*node, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	n := &node{cfg: cfg, registry: prometheus.NewRegistry()}
	n.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if cfg.Log.Dir != "" {
		n.logs, err = logx.NewManager(cfg.Log.Dir, cfg.Log.Debug)
		if err != nil {
			return nil, err
		}
		n.logger, err = n.logs.Logger(role)
	} else {
		n.logger, err = logx.Console(cfg.Log.Debug)
	}
	if err != nil {
		return nil, err
	}
	n.logger = n.logger.With(zap.String("eid", cfg.EID()))

	switch cfg.Store.Kind {
	case "memory":
		n.store = memstore.New()
	default:
		n.store, err = badgerstore.Open(badgerstore.Options{
			Dir:    filepath.Join(cfg.Store.Dir, "db"),
			Logger: n.logger.Named("badger"),
		})
		if err != nil {
			n.Close()
			return nil, err
		}
	}
	return n, nil
}

func (n *node) Close() {
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			n.logger.Error("close store", zap.Error(err))
		}
	}
	_ = n.logger.Sync()
	if n.logs != nil {
		_ = n.logs.Close()
	}
}

// transport opens the configured transport joined to groups.
func (n *node) transport(groups ...string) (core.Transport, func(), error) {
	t := n.cfg.Transport
	var secret []byte
	if t.Secret != "" {
		secret = []byte(t.Secret)
	}
	codec := frame.NewCodec(secret)
	logger := n.logger.Named("transport")

	switch t.Kind {
	case "quic":
		classifier := bftquic.GroupClassifier{n.cfg.Collective.Groups().Blocks: true}
		tr, err := bftquic.NewQUICTransport(n.cfg.EID(), t.Listen, groups, codec, classifier, logger)
		if err != nil {
			return nil, nil, err
		}
		tr.Connect(t.Peers)
		return tr, tr.WaitForReady, nil
	case "tcp":
		tr, err := bfttcp.NewTCPTransport(n.cfg.EID(), t.Listen, groups, codec, logger)
		if err != nil {
			return nil, nil, err
		}
		tr.Connect(t.Peers)
		return tr, tr.WaitForReady, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", t.Kind)
	}
}

// serveAdmin adds the admin server to g when an admin address is configured.
func (n *node) serveAdmin(ctx context.Context, g *errgroup.Group, role string) {
	if n.cfg.Admin.Listen == "" {
		return
	}
	router := admin.NewRouter(admin.Status{Node: n.cfg.EID(), Role: role}, n.registry)
	srv := admin.NewServer(n.cfg.Admin.Listen, router, n.logger.Named("admin"))
	g.Go(func() error { return srv.Serve(ctx) })
}

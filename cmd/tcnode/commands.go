package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/impl/tc"
	"github.com/usernamenenad/trusted-collective/impl/tca"
	"github.com/usernamenenad/trusted-collective/impl/tcc"
)

func rootCommand() *cobra.Command {
	c := &cobra.Command{
		Use:           "tcnode",
		Short:         "Runs a member of a trusted collective",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.PersistentFlags().StringP("config", "c", "tcnode.yml", "configuration file")
	c.AddCommand(initCommand(), authorityCommand(), clientCommand(), submitCommand())
	return c
}

func configPath(c *cobra.Command) string {
	path, _ := c.Flags().GetString("config")
	return path
}

func initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Writes the collective parameters to the node's store",
		RunE: func(c *cobra.Command, _ []string) error {
			n, err := openNode(configPath(c), "init")
			if err != nil {
				return err
			}
			defer n.Close()

			if n.cfg.IsAuthority() {
				p, err := tca.Initialize(n.store, n.cfg.Collective.AuthoritySettings())
				if err != nil {
					return fmt.Errorf("initialize authority: %w", err)
				}
				n.logger.Info("authority state initialized",
					zap.Int("k", p.FEC.K), zap.Int("m", p.FEC.M), zap.Int("q", p.FEC.Q))
			}

			p, err := tcc.Initialize(n.store, n.cfg.Collective.ClientSettings())
			if err != nil {
				return fmt.Errorf("initialize client: %w", err)
			}
			n.logger.Info("client state initialized", zap.Int("k", p.FEC.K), zap.Int("m", p.FEC.M))
			return nil
		},
	}
}

func authorityCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "authority",
		Short: "Runs the record intake, bulletin schedule and publication of an authority",
		RunE: func(c *cobra.Command, _ []string) error {
			n, err := openNode(configPath(c), "authority")
			if err != nil {
				return err
			}
			defer n.Close()

			groups := n.cfg.Collective.Groups()
			tr, _, err := n.transport(groups.Records, groups.Bulletins)
			if err != nil {
				return err
			}
			defer tr.Close()

			spool := n.cfg.SpoolDir
			if spool == "" && n.cfg.Store.Kind == "badger" {
				spool = filepath.Join(n.cfg.Store.Dir, "spool")
			}
			a, err := tca.New(tca.Options{
				Node:       core.NodeNbr(n.cfg.Node),
				Store:      n.store,
				Transport:  tr,
				SpoolDir:   spool,
				Registerer: n.registry,
				Logger:     n.logger,
			})
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(c.Context())
			n.serveAdmin(ctx, g, "authority")
			g.Go(func() error { return a.Run(ctx) })
			g.Go(func() error {
				<-ctx.Done()
				return tr.Close()
			})
			n.logger.Info("authority running", zap.Int("index", a.Index()))
			return g.Wait()
		},
	}
}

func clientCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "client",
		Short: "Reconstructs bulletins and prints their records",
		RunE: func(c *cobra.Command, _ []string) error {
			n, err := openNode(configPath(c), "client")
			if err != nil {
				return err
			}
			defer n.Close()

			tr, _, err := n.transport(n.cfg.Collective.Groups().Blocks)
			if err != nil {
				return err
			}
			defer tr.Close()

			cl, err := tcc.New(tcc.Options{
				Store:      n.store,
				Transport:  tr,
				Registerer: n.registry,
				Logger:     n.logger,
			})
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(c.Context())
			n.serveAdmin(ctx, g, "client")
			g.Go(func() error { return cl.Serve(ctx) })
			g.Go(func() error {
				<-ctx.Done()
				cl.Close()
				return tr.Close()
			})
			g.Go(func() error { return consume(ctx, cl) })
			return g.Wait()
		},
	}
}

// consume prints every reconstructed bulletin until the client stops.
func consume(ctx context.Context, cl *tcc.Client) error {
	for {
		content, err := cl.GetBulletin(ctx)
		if errors.Is(err, core.ErrStopped) {
			return nil
		}
		if err != nil {
			return err
		}

		recs, err := tc.ParseRecords(content, tc.MaxDataLength)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bulletin: %v\n", err)
		}
		for _, r := range recs {
			at := time.Unix(int64(r.EffectiveTime), 0).UTC().Format(time.RFC3339)
			if r.IsRevocation() {
				fmt.Printf("%d\t%s\trevoked\n", r.NodeNbr, at)
				continue
			}
			fmt.Printf("%d\t%s\t%s\n", r.NodeNbr, at, hex.EncodeToString(r.Data))
		}
	}
}

func submitCommand() *cobra.Command {
	var (
		effective string
		data      string
		revoke    bool
		timeout   time.Duration
	)
	c := &cobra.Command{
		Use:   "submit",
		Short: "Submits a declaration of this node to the collective",
		RunE: func(c *cobra.Command, _ []string) error {
			n, err := openNode(configPath(c), "submit")
			if err != nil {
				return err
			}
			defer n.Close()

			rec := tc.Record{NodeNbr: n.cfg.Node, AssertionTime: uint32(time.Now().Unix())}
			rec.EffectiveTime = rec.AssertionTime
			if effective != "" {
				at, err := time.Parse(time.RFC3339, effective)
				if err != nil {
					return fmt.Errorf("effective time: %w", err)
				}
				rec.EffectiveTime = uint32(at.Unix())
			}
			if !revoke {
				rec.Data, err = hex.DecodeString(data)
				if err != nil {
					return fmt.Errorf("data: %w", err)
				}
				if len(rec.Data) == 0 {
					return errors.New("data is required unless --revoke is set")
				}
				if len(rec.Data) > tc.MaxDataLength {
					return fmt.Errorf("data exceeds %d bytes", tc.MaxDataLength)
				}
			}

			tr, ready, err := n.transport()
			if err != nil {
				return err
			}
			defer tr.Close()

			ctx, cancel := context.WithTimeout(c.Context(), timeout)
			defer cancel()
			waitReady(ctx, ready)

			id, err := tr.Send(ctx, n.cfg.Collective.Groups().Records, tc.Serialize(&rec), time.Hour)
			if err != nil {
				return err
			}
			n.logger.Info("record submitted", zap.String("bundle", string(id)), zap.Uint32("effectiveTime", rec.EffectiveTime))
			return nil
		},
	}
	c.Flags().StringVar(&effective, "effective", "", "effective time (RFC 3339), default now")
	c.Flags().StringVar(&data, "data", "", "declaration data, hex encoded")
	c.Flags().BoolVar(&revoke, "revoke", false, "revoke the prior declaration")
	c.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "time allowed to reach the authorities")
	return c
}

func waitReady(ctx context.Context, ready func()) {
	done := make(chan struct{})
	go func() {
		ready()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

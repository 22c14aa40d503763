package main

import (
	"context"
	"time"

	"github.com/dabubble/common/outbox"
	"github.com/dabubble/common/presence"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const memoryFlushInterval = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the propagation worker and the presence mirror",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, runWorkers)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runWorkers(ctx context.Context, a *app) error {
	g, ctx := errgroup.WithContext(ctx)

	applier := a.applier()
	if a.rmq != nil {
		worker := outbox.NewWorker(a.rmq, applier, a.outbox, a.workerConfig())
		g.Go(func() error { return worker.Run(ctx) })
	} else if mem, ok := a.outbox.(*outbox.Memory); ok {
		g.Go(func() error {
			tick := time.NewTicker(memoryFlushInterval)
			defer tick.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-tick.C:
					if err := mem.Flush(ctx, applier); err != nil {
						a.logger.WithError(err).Warn("propagation job failed, will retry")
					}
				}
			}
		})
	}

	if a.redis != nil {
		mirror := presence.NewMirror(a.redis, a.cfg.Presence.Resync, a.presenceConfig())
		g.Go(func() error { return mirror.Run(ctx) })
		g.Go(func() error {
			s, err := a.session(ctx)
			if err != nil || s == nil {
				return err
			}
			return a.presence.Register(ctx, s.UID())
		})
	}

	a.logger.Info("running")
	err := g.Wait()
	a.logger.Info("stopped")
	return err
}

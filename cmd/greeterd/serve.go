package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"greeterd/internal/api"
	"greeterd/internal/chain"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger := newLogger(os.Stdout, true)
		st, err := newStack(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		core := st.newCore()
		server := api.NewServer(cfg, logger, core, st.session, st.registry)

		g, gctx := errgroup.WithContext(ctx)
		st.auto.Start(gctx)

		g.Go(func() error {
			return core.Run(gctx)
		})

		g.Go(func() error {
			logger.Info("api starting", "listen", cfg.API.Listen)
			return server.Start(gctx)
		})

		if cfg.Greeter.RefreshOnNewHead {
			heads := make(chan uint64)
			watcher := chain.NewHeadWatcher(st.eth, cfg.RPC.WS, cfg.Greeter.HeadPollInterval.Duration, logger)
			g.Go(func() error {
				return watcher.Run(gctx, heads)
			})
			g.Go(func() error {
				core.FollowHeads(gctx, heads)
				return nil
			})
		}

		err = g.Wait()
		core.Close()
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("greeterd stopped", "error", err)
			return err
		}
		return nil
	},
}

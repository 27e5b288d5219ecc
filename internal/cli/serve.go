// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/synth/internal/engine"
	"github.com/jeranaias/synth/internal/server"
)

// shutdownTimeout bounds how long in-flight requests may finish.
const shutdownTimeout = 15 * time.Second

func newServeCommand(app *App) *cobra.Command {
	var (
		addr  string
		queue int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local HTTP API for the desktop UI",
		Example: `  synth serve
  synth serve --addr 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := app.Config()
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger := app.Logger()

			c, err := app.components(ctx)
			if err != nil {
				return NewCommandError("serve", "setup", err)
			}
			defer c.Close()

			worker := engine.NewWorker(c.Engine, queue, logger.Named("worker"))
			defer worker.Close()

			opts := []server.Option{
				server.WithSearcher(c.Waterfall),
				server.WithHealth(c.Generator),
				server.WithGuard(c.Guard),
				server.WithLogger(logger.Named("http")),
			}
			if c.Index != nil {
				opts = append(opts, server.WithKnowledge(c.Index))
			}
			if c.Tracker != nil {
				opts = append(opts, server.WithStats(c.Tracker))
			}
			srv := server.New(cfg.Server, worker, opts...)

			errc := make(chan error, 1)
			go func() { errc <- srv.Start() }()
			if !app.Quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s (Ctrl+C to stop)\n", cfg.Server.Addr)
			}

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return NewCommandError("serve", "listen", err)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("shutdown incomplete", zap.Error(err))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from server.addr)")
	cmd.Flags().IntVar(&queue, "queue", engine.DefaultQueueSize, "requests that may wait for the engine")
	return cmd
}

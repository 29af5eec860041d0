package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/wikifront/internal/telemetry"
	"github.com/tjfontaine/wikifront/pkg/wikifront"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var tracing bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve wiki requests over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := root.newLogger(os.Stdout)
			slog.SetDefault(logger)

			if tracing {
				shutdown, err := telemetry.InitTracer("wikifront", os.Stderr, logger)
				if err != nil {
					return fmt.Errorf("initialize tracer: %w", err)
				}
				defer func() {
					if err := shutdown(context.Background()); err != nil {
						logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
					}
				}()
			}

			w, err := wikifront.New(
				wikifront.WithLogger(logger),
				wikifront.WithFileConfig(root.ConfigPath),
			)
			if err != nil {
				return fmt.Errorf("create wiki: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := w.Start(ctx); err != nil {
				return fmt.Errorf("start wiki: %w", err)
			}

			serveErr := make(chan error, 1)
			go func() { serveErr <- w.Wait() }()

			select {
			case <-ctx.Done():
				logger.Info("shutdown signal received, stopping wiki")
			case err := <-serveErr:
				if err != nil {
					logger.Error("server failed", slog.String("error", err.Error()))
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return w.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().BoolVar(&tracing, "tracing", false, "export OpenTelemetry spans to stderr")
	return cmd
}

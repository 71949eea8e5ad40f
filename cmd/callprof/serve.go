package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fllarpy/callprof"
	httpinstrumentation "github.com/fllarpy/callprof/instrumentation/http"
	"github.com/fllarpy/callprof/internal/host"
	"github.com/fllarpy/callprof/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(load configLoader) *cobra.Command {
	var (
		listenAddr string
		requests   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the report, flush and metrics endpoints",
		Long: `Start an HTTP server exposing:
- GET  /report   report history as JSON
- POST /flush    write a report now and return it
- GET  /metrics  the profiler's own Prometheus metrics

Requests to the server are profiled too, either through OpenTelemetry spans
(--requests=spans) or directly on the serving goroutine (--requests=direct).
Reports are written every flush_interval and once more on shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}

			logger := logging.NewWithComponent(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty}, "http")
			p, err := callprof.New(cfg, host.NewGoroutines())
			if err != nil {
				return fmt.Errorf("failed to create profiler: %w", err)
			}

			var handler http.Handler
			switch requests {
			case "spans":
				tp, err := p.NewTracerProvider(cfg.ServiceName, version)
				if err != nil {
					return err
				}
				handler = httpinstrumentation.NewMiddleware(p.Handler(), cfg.ServiceName, tp)
			case "direct":
				handler = p.Middleware()(p.Handler())
			case "off":
				handler = p.Handler()
			default:
				return fmt.Errorf("unknown --requests mode %q", requests)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           handler,
				ReadHeaderTimeout: 5 * time.Second,
			}
			p.Start()

			errCh := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", cfg.ListenAddr).Msg("Serving profiler endpoints")
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					_ = p.Shutdown(context.Background())
					return fmt.Errorf("server failed: %w", err)
				}
			case <-ctx.Done():
				logger.Info().Msg("Shutting down")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("HTTP server did not shut down cleanly")
			}
			if err := p.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("final report failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides listen_addr)")
	cmd.Flags().StringVar(&requests, "requests", "spans", "how requests are profiled: spans, direct or off")
	return cmd
}

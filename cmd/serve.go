package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spidercast/spidercast/internal/broadcast"
	"github.com/spidercast/spidercast/internal/bus"
	"github.com/spidercast/spidercast/internal/fetch"
	"github.com/spidercast/spidercast/internal/metrics"
	"github.com/spidercast/spidercast/internal/service"
	"github.com/spidercast/spidercast/internal/task"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the crawler worker",
		Long: `Consumes start/stop commands from the command queue, runs crawl
tasks against the configured search engine, and broadcasts envelopes to the
fanout exchange. Reconnects to the broker with backoff on connection loss.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	registry := task.NewRegistry()
	fetcher := fetch.New(fetch.Config{
		UserAgent:   cfg.HTTP.UserAgent,
		Timeout:     cfg.FetchTimeout(),
		MaxAttempts: cfg.HTTP.MaxRetries,
		BackoffBase: cfg.BackoffBase(),
	}, logger)

	go serveOps(ctx, cfg.Server.Port, logger)

	err = runWithReconnect(ctx, cfg.AMQP.URL, logger, func(ctx context.Context, b *bus.AMQPBus) error {
		svc := service.New(registry, b, broadcast.New(b), fetcher, logger)
		return svc.Run(ctx)
	})
	if err != nil {
		return err
	}
	// In-flight task runners are abandoned on shutdown rather than drained;
	// consumers observe the missing terminal status on restart.
	logger.Info("crawler worker shut down")
	return nil
}

// serveOps exposes health and metrics for the worker process.
func serveOps(ctx context.Context, port int, logger *zap.Logger) {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("ops server failed", zap.Error(err))
	}
}

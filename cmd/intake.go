package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spidercast/spidercast/internal/bus"
	"github.com/spidercast/spidercast/internal/intake"
)

func newIntakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "intake",
		Short: "Runs the HTTP intake server",
		Long: `Serves the HTTP API that publishes start/stop commands to the
command exchange and relays broadcast envelopes to browsers as server-sent
event streams.`,
		RunE: runIntake,
	}
}

func runIntake(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	b, err := bus.Dial(cfg.AMQP.URL, logger)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           intake.NewServer(b, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("intake server listening", zap.Int("port", cfg.Server.Port))

	select {
	case <-ctx.Done():
	case cerr := <-b.Closed():
		// Without a live bus the intake can neither publish nor stream;
		// exit and let the supervisor restart the process.
		if cerr != nil {
			logger.Error("bus connection lost", zap.Error(cerr))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown intake server: %w", err)
	}
	logger.Info("intake server shut down")
	return nil
}

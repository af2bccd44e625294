package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/spidercast/spidercast/internal/bus"
	"github.com/spidercast/spidercast/internal/store"
)

func newStoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "store",
		Short: "Runs the persistence worker",
		Long: `Consumes broadcast envelopes from the persistence queue and writes
crawl task state and result links into Postgres. Reconnects to the broker
with backoff on connection loss.`,
		RunE: runStore,
	}
}

func runStore(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	st, err := store.New(ctx, store.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
	})
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	err = runWithReconnect(ctx, cfg.AMQP.URL, logger, func(ctx context.Context, b *bus.AMQPBus) error {
		return store.NewWorker(st, b, logger).Run(ctx)
	})
	if err != nil {
		return err
	}
	logger.Info("persistence worker shut down")
	return nil
}

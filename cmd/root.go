// Package cmd defines the CLI commands for the spidercast executable.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spidercast/spidercast/internal/bus"
	"github.com/spidercast/spidercast/internal/config"
	"github.com/spidercast/spidercast/internal/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spidercast",
		Short: "A command-driven search crawler broadcasting over AMQP.",
		Long: `spidercast searches web engines for keyword sets and broadcasts
status, progress and result envelopes over a fanout exchange, so independent
consumers (persistence, live streams, monitoring) observe a crawl in real
time. Crawls are driven by start/stop commands on a topic exchange.`,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newServeCmd(), newIntakeCmd(), newStoreCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and builds the process logger.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// runWithReconnect dials the bus and hands it to run, re-dialing with capped
// exponential backoff whenever the connection is lost. It returns once run
// reports a clean ctx-driven exit.
func runWithReconnect(ctx context.Context, url string, logger *zap.Logger, run func(context.Context, *bus.AMQPBus) error) error {
	backoff := reconnectBase
	for {
		if ctx.Err() != nil {
			return nil
		}
		b, err := bus.Dial(url, logger)
		if err != nil {
			logger.Error("bus dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
		} else {
			go func() {
				if cerr := <-b.Closed(); cerr != nil {
					logger.Warn("broker closed connection", zap.Error(cerr))
				}
			}()
			backoff = reconnectBase
			err = run(ctx, b)
			_ = b.Close()
			if err == nil {
				return nil
			}
			logger.Error("bus connection lost", zap.Error(err), zap.Duration("retry_in", backoff))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

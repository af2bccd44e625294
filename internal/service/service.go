// Package service runs the crawler's command loop: it consumes start/stop
// messages from the command queue, tracks live task runs, and spawns or
// cancels task runners accordingly.
package service

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/spidercast/spidercast/internal/bus"
	"github.com/spidercast/spidercast/internal/metrics"
	"github.com/spidercast/spidercast/internal/task"
)

// Service owns the command loop for one bus connection. The registry may
// outlive the connection so runs started before a reconnect stay stoppable.
type Service struct {
	registry *task.Registry
	consumer bus.Consumer
	bc       task.Broadcaster
	fetcher  task.Fetcher
	logger   *zap.Logger

	wg sync.WaitGroup
}

// New constructs a Service.
func New(registry *task.Registry, consumer bus.Consumer, bc task.Broadcaster, fetcher task.Fetcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry: registry,
		consumer: consumer,
		bc:       bc,
		fetcher:  fetcher,
		logger:   logger,
	}
}

// Run consumes the command queue until ctx ends (returns nil) or the bus
// connection is lost (returns the consumer's error so the caller can
// re-dial). In-flight task runners are not awaited; call Wait to drain them.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("command loop started", zap.String("queue", bus.CommandQueue))
	return s.consumer.Consume(ctx, bus.CommandQueue, s.handle)
}

// Wait blocks until every spawned task runner has terminated.
func (s *Service) Wait() {
	s.wg.Wait()
}

// handle processes one command delivery. Every delivery is acknowledged by
// the consumer regardless of the returned error; a malformed or rejected
// command is logged and dropped so the loop never wedges on a poison message.
func (s *Service) handle(ctx context.Context, msg bus.Message) error {
	cmd, err := decodeCommand(msg)
	if err != nil {
		s.logger.Warn("dropping command", zap.Error(err))
		return err
	}
	metrics.ObserveCommand(cmd.Cmd)

	switch cmd.Cmd {
	case CmdStart:
		return s.start(ctx, cmd)
	case CmdStop:
		s.stop(cmd)
		return nil
	default:
		return nil // unreachable, decodeCommand rejects unknown verbs
	}
}

func (s *Service) start(ctx context.Context, cmd Command) error {
	id := string(cmd.TaskID)
	flag, err := s.registry.Add(id)
	if err != nil {
		if errors.Is(err, task.ErrDuplicateTask) {
			s.logger.Warn("rejecting duplicate start", zap.String("task_id", id))
		}
		return err
	}

	runner := task.NewRunner(cmd.params(), flag, s.fetcher, s.bc, s.logger)
	s.logger.Info("starting task", zap.String("task_id", id))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.registry.Remove(id)
		runner.Run(ctx)
	}()
	return nil
}

func (s *Service) stop(cmd Command) {
	id := string(cmd.TaskID)
	if s.registry.Stop(id) {
		s.logger.Info("stop requested", zap.String("task_id", id))
		return
	}
	// Stopping an id with no live run is an explicit no-op.
	s.logger.Debug("stop for unknown task ignored", zap.String("task_id", id))
}

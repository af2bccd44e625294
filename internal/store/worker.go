package store

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/spidercast/spidercast/internal/bus"
	"github.com/spidercast/spidercast/internal/envelope"
)

// Worker drains the persistence queue into a Store. Undecodable or
// unpersistable envelopes are logged and dropped so a poison message can
// never wedge the queue.
type Worker struct {
	store    *Store
	consumer bus.Consumer
	logger   *zap.Logger
}

// NewWorker constructs a Worker.
func NewWorker(store *Store, consumer bus.Consumer, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{store: store, consumer: consumer, logger: logger}
}

// Run consumes the store queue until ctx ends (returns nil) or the bus
// connection is lost (returns the consumer's error).
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("store worker started", zap.String("queue", bus.QueueStore))
	return w.consumer.Consume(ctx, bus.QueueStore, w.handle)
}

func (w *Worker) handle(ctx context.Context, msg bus.Message) error {
	var env envelope.Envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		w.logger.Warn("dropping undecodable envelope", zap.Error(err))
		return err
	}
	if err := w.store.Apply(ctx, env); err != nil {
		w.logger.Error("persist envelope failed",
			zap.String("task_id", env.TaskID),
			zap.String("message_type", string(env.MessageType)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

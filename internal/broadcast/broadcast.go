// Package broadcast publishes envelopes to the fanout exchange.
package broadcast

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spidercast/spidercast/internal/bus"
	"github.com/spidercast/spidercast/internal/envelope"
)

// Broadcaster encodes envelopes and publishes them over a bus.Publisher. It
// is safe for concurrent use whenever the underlying publisher is.
type Broadcaster struct {
	pub bus.Publisher
}

// New constructs a Broadcaster.
func New(pub bus.Publisher) *Broadcaster {
	return &Broadcaster{pub: pub}
}

// Status broadcasts a lifecycle status for taskID; errText is optional.
func (b *Broadcaster) Status(ctx context.Context, taskID, status, errText string) error {
	return b.send(ctx, envelope.TypeStatus, taskID, envelope.NewStatus(status, errText))
}

// Progress broadcasts a current/total page snapshot for taskID.
func (b *Broadcaster) Progress(ctx context.Context, taskID string, current, total int) error {
	return b.send(ctx, envelope.TypeProgress, taskID, envelope.ProgressPayload{
		CurrentPage: current,
		TotalPages:  total,
	})
}

// Result broadcasts one extracted link for taskID.
func (b *Broadcaster) Result(ctx context.Context, taskID string, payload envelope.ResultPayload) error {
	return b.send(ctx, envelope.TypeResult, taskID, payload)
}

func (b *Broadcaster) send(ctx context.Context, messageType envelope.MessageType, taskID string, payload any) error {
	env, err := envelope.Wrap(messageType, taskID, payload)
	if err != nil {
		return err
	}
	body, err := env.Marshal()
	if err != nil {
		return err
	}
	msg := bus.Message{
		Body:        body,
		ContentType: "application/json",
		// Headers mirror the envelope so consumers can route without
		// decoding the body.
		Headers: map[string]any{
			"messageType": string(env.MessageType),
			"taskId":      env.TaskID,
			"timestamp":   strconv.FormatInt(env.Timestamp, 10),
		},
	}
	if err := b.pub.Broadcast(ctx, msg); err != nil {
		return fmt.Errorf("broadcast %s: %w", messageType, err)
	}
	return nil
}

// Package memory provides an in-process bus implementation for local
// development and tests. It mirrors the AMQP topology: broadcasts fan out to
// every named queue plus any live subscriber taps, and commands route to the
// command queue by prefix match.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spidercast/spidercast/internal/bus"
)

const queueDepth = 1024

// Bus implements bus.Publisher, bus.Consumer and bus.Subscriber in memory.
type Bus struct {
	mu     sync.Mutex
	queues map[string]chan bus.Message
	subs   map[int]chan bus.Message
	nextID int
}

// NewBus constructs a Bus with every topology queue declared.
func NewBus() *Bus {
	queues := make(map[string]chan bus.Message)
	for _, q := range bus.BroadcastQueues() {
		queues[q] = make(chan bus.Message, queueDepth)
	}
	queues[bus.CommandQueue] = make(chan bus.Message, queueDepth)
	return &Bus{
		queues: queues,
		subs:   make(map[int]chan bus.Message),
	}
}

// Broadcast copies msg into every broadcast queue and subscriber tap. A full
// queue drops the copy rather than blocking the publisher, matching the
// never-block publish property of the real bus.
func (b *Bus) Broadcast(_ context.Context, msg bus.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range bus.BroadcastQueues() {
		select {
		case b.queues[name] <- msg:
		default:
		}
	}
	for _, tap := range b.subs {
		select {
		case tap <- msg:
		default:
		}
	}
	return nil
}

// PublishCommand routes body to the command queue when routingKey matches
// the command pattern.
func (b *Bus) PublishCommand(_ context.Context, routingKey string, body []byte) error {
	if !strings.HasPrefix(routingKey, "cmd.") {
		return fmt.Errorf("routing key %q does not match %s", routingKey, bus.CommandPattern)
	}
	msg := bus.Message{Body: body, ContentType: "application/json", RoutingKey: routingKey}
	select {
	case b.queues[bus.CommandQueue] <- msg:
		return nil
	default:
		return fmt.Errorf("command queue full")
	}
}

// Consume delivers queue messages to handler until ctx ends.
func (b *Bus) Consume(ctx context.Context, queue string, handler bus.Handler) error {
	b.mu.Lock()
	ch, ok := b.queues[queue]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown queue %q", queue)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			// Handler errors are swallowed like the AMQP bus does: the
			// delivery is considered acked either way.
			_ = handler(ctx, msg)
		}
	}
}

// Subscribe taps the broadcast stream until ctx ends.
func (b *Bus) Subscribe(ctx context.Context) (<-chan bus.Message, error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	tap := make(chan bus.Message, queueDepth)
	b.subs[id] = tap
	b.mu.Unlock()

	out := make(chan bus.Message, queueDepth)
	go func() {
		defer close(out)
		defer func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-tap:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Queue exposes the raw channel for a named queue; test helper.
func (b *Bus) Queue(name string) <-chan bus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queues[name]
}

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrConnectionLost reports that the broker connection dropped mid-consume.
// Callers re-dial; they must not treat it as a handler failure.
var ErrConnectionLost = errors.New("bus connection lost")

const prefetchCount = 50

// AMQPBus is the rabbit-backed implementation of Publisher, Consumer and
// Subscriber. One instance owns one connection and one channel for the
// process lifetime; publishes are serialized with a mutex because the client
// does not guarantee frame interleaving safety for concurrent publishers on
// a single channel.
type AMQPBus struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *zap.Logger

	pubMu sync.Mutex
}

// Dial connects to the broker at url, declares the full topology and returns
// a ready bus.
func Dial(url string, logger *zap.Logger) (*AMQPBus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	b := &AMQPBus{conn: conn, ch: ch, logger: logger}
	if err := b.declareTopology(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return b, nil
}

// declareTopology declares the broadcast exchange with its consumer queues
// and the command exchange with its queue. Declarations are idempotent on
// the broker side, so every process declares everything it touches.
func (b *AMQPBus) declareTopology() error {
	if err := b.ch.ExchangeDeclare(BroadcastExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare broadcast exchange: %w", err)
	}
	for _, queue := range BroadcastQueues() {
		if _, err := b.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		// Fanout ignores the routing key but the API still wants one.
		if err := b.ch.QueueBind(queue, "", BroadcastExchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
		b.logger.Info("broadcast queue bound", zap.String("queue", queue))
	}

	if err := b.ch.ExchangeDeclare(CommandExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare command exchange: %w", err)
	}
	if _, err := b.ch.QueueDeclare(CommandQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare command queue: %w", err)
	}
	if err := b.ch.QueueBind(CommandQueue, CommandPattern, CommandExchange, false, nil); err != nil {
		return fmt.Errorf("bind command queue: %w", err)
	}
	return nil
}

// Broadcast publishes a persistent message to the fanout exchange.
func (b *AMQPBus) Broadcast(ctx context.Context, msg Message) error {
	return b.publish(ctx, BroadcastExchange, "", msg)
}

// PublishCommand publishes a persistent command message under routingKey.
func (b *AMQPBus) PublishCommand(ctx context.Context, routingKey string, body []byte) error {
	return b.publish(ctx, CommandExchange, routingKey, Message{
		Body:        body,
		ContentType: "application/json",
	})
}

func (b *AMQPBus) publish(ctx context.Context, exchange, routingKey string, msg Message) error {
	contentType := msg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	err := b.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  contentType,
		Headers:      amqp.Table(msg.Headers),
		Body:         msg.Body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", exchange, err)
	}
	return nil
}

// Consume drains queue, acknowledging every delivery after its handler
// returns. Handler errors are logged and swallowed so a bad message cannot
// wedge the loop in a redelivery cycle.
func (b *AMQPBus) Consume(ctx context.Context, queue string, handler Handler) error {
	deliveries, err := b.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("consume %s: %w", queue, ErrConnectionLost)
			}
			if err := handler(ctx, Message{
				Body:        d.Body,
				ContentType: d.ContentType,
				Headers:     map[string]any(d.Headers),
				RoutingKey:  d.RoutingKey,
			}); err != nil {
				b.logger.Error("message handler failed",
					zap.String("queue", queue),
					zap.Error(err),
				)
			}
			if err := d.Ack(false); err != nil {
				b.logger.Warn("ack failed", zap.String("queue", queue), zap.Error(err))
			}
		}
	}
}

// Subscribe binds a private auto-delete queue to the broadcast exchange and
// streams its deliveries until ctx ends.
func (b *AMQPBus) Subscribe(ctx context.Context) (<-chan Message, error) {
	q, err := b.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare subscriber queue: %w", err)
	}
	if err := b.ch.QueueBind(q.Name, "", BroadcastExchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind subscriber queue: %w", err)
	}
	deliveries, err := b.ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume subscriber queue: %w", err)
	}

	out := make(chan Message, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				msg := Message{
					Body:        d.Body,
					ContentType: d.ContentType,
					Headers:     map[string]any(d.Headers),
					RoutingKey:  d.RoutingKey,
				}
				select {
				case out <- msg:
				default:
					b.logger.Warn("subscriber falling behind, dropping broadcast")
				}
			}
		}
	}()
	return out, nil
}

// Closed signals connection loss; the channel delivers the close reason.
func (b *AMQPBus) Closed() <-chan *amqp.Error {
	return b.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// Close shuts the channel and connection down.
func (b *AMQPBus) Close() error {
	if err := b.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		b.logger.Warn("channel close failed", zap.Error(err))
	}
	if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}

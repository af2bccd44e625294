// Package bus defines the message-bus boundary: the exchange/queue topology
// and the publish/consume interfaces the crawler, intake and store components
// are written against. The AMQP implementation lives here; an in-memory
// implementation for tests lives in the memory subpackage.
package bus

import "context"

// Message is one bus delivery or publication.
type Message struct {
	Body        []byte
	ContentType string
	Headers     map[string]any
	RoutingKey  string
}

// Publisher publishes to the two exchanges. Implementations must make every
// publish safe to interleave with concurrent publishes on one connection.
type Publisher interface {
	// Broadcast publishes msg to the fanout exchange; every bound consumer
	// queue receives a copy.
	Broadcast(ctx context.Context, msg Message) error
	// PublishCommand publishes body to the command exchange under the given
	// routing key (cmd.start, cmd.stop).
	PublishCommand(ctx context.Context, routingKey string, body []byte) error
}

// Handler processes one delivery. The delivery is acknowledged when the
// handler returns, regardless of error: a poison message must never loop back
// into the queue. Handler errors are surfaced as log lines only.
type Handler func(ctx context.Context, msg Message) error

// Consumer drains a named durable queue.
type Consumer interface {
	// Consume blocks delivering queue messages to handler until ctx ends
	// (returns nil) or the underlying connection is lost (returns an error
	// so the caller can re-dial).
	Consume(ctx context.Context, queue string, handler Handler) error
}

// Subscriber taps the live broadcast stream without competing with the named
// consumer queues, via a private queue bound to the broadcast exchange.
type Subscriber interface {
	// Subscribe returns a channel of broadcast messages that closes when
	// ctx ends. Messages that arrive faster than the reader drains them
	// may be dropped.
	Subscribe(ctx context.Context) (<-chan Message, error)
}

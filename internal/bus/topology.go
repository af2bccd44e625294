package bus

// Fixed bus topology. Downstream consumers depend on these names; changing
// one is a cross-service migration.
const (
	// BroadcastExchange is the durable fanout exchange all envelopes go to.
	BroadcastExchange = "crawler.fanout.exchange"

	// Consumer queues bound to the broadcast exchange.
	QueueStore   = "crawler.data.store"
	QueueFront   = "crawler.data.front"
	QueueMonitor = "crawler.data.monitor"

	// CommandExchange is the durable topic exchange carrying control messages.
	CommandExchange = "crawler.command.exchange"
	// CommandQueue receives everything matching CommandPattern.
	CommandQueue   = "crawler.command.queue"
	CommandPattern = "cmd.*"

	// Command routing keys.
	RouteStart = "cmd.start"
	RouteStop  = "cmd.stop"
)

// BroadcastQueues lists the known downstream consumer queues declared and
// bound at startup.
func BroadcastQueues() []string {
	return []string{QueueStore, QueueFront, QueueMonitor}
}

/*
Package busstore broadcasts named events between server processes through a
durable, log based message bus such as Kafka or NATS JetStream.

Every process creates one Store. Stores sharing a topic partition see each
other's events, but never their own: each envelope carries the publishing
node's identity and the receiving store drops envelopes it originated.

# Basic Usage

	store, err := busstore.New(
		busstore.Brokers(bus.Broker{Host: "localhost", Port: 9092}),
		busstore.Topic("chat"),
		busstore.Driver(kafka.New()),
	)
	if err != nil {
		return err
	}
	defer store.Destroy()

	store.Subscribe("message", func(args ...any) {
		slog.Info("remote message", slog.Any("args", args))
	})
	store.Publish("message", "hello", 42)

# Readiness

The producer and the consumer connect in the background and each becomes
ready on its own. Publish never waits: events published before the producer is
ready are buffered and sent, in order, once it is. Subscribe and Unsubscribe
only touch the local handler table and take effect immediately; delivery starts
once the consumer is ready.

# Delivery

The consumer reads the partition on behalf of a consumer group named after the
node, so all of a process's subscriptions share one stream. Each message is
decoded, dispatched to the handler registered for its event name, and only then
committed. A node that crashes mid-dispatch sees the message again after a
restart: delivery is at least once.

When the bus reports that the partition leader is not elected yet the store
polls again after a fixed delay. Any other poll error stops delivery until the
store is recreated; it is logged but not retried.

# Clients

Client returns a small key/value scratch space for one connection. It is local
to the process and never replicated.

# Thread Safety

All Store and Client methods are safe for concurrent use. Handlers run on the
consumer's goroutine one message at a time and should hand long work off.
*/
package busstore

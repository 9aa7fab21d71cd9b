// Package bus describes the producer/consumer pair a store talks to. The store
// never performs network I/O itself: a Driver hands it a Producer for outbound
// envelopes and a Consumer that polls one topic partition on behalf of a
// consumer group.
//
// Both halves set themselves up asynchronously and announce it through
// OnReady. Callbacks may fire on any goroutine.
//
// Interface hierarchy:
//   - Driver: builds producers and consumers from a Config
//     ├── Producer: sends payloads to a Target
//     └── Consumer: polls a Target and yields a Subscription
//     └── Subscription: streams messages, each with a CommitFunc
//
// Implementations live in the sub packages:
//   - memory: an in-process log used by tests and single-node setups
//   - kafka: franz-go backed Kafka client
//   - jetstream: NATS JetStream backed client
package bus

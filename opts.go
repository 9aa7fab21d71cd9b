package busstore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/casualjim/busstore/bus"
	"github.com/casualjim/busstore/codec"
	"github.com/casualjim/busstore/internal/metrics"
	"github.com/casualjim/busstore/pkg/uuidx"
	"github.com/fogfish/opts"
)

const (
	// DefaultMaxBytes bounds a single message on the bus.
	DefaultMaxBytes = 2_000_000
	// DefaultLeaderRetryDelay is how long the delivery loop waits before
	// polling again when the partition has no leader.
	DefaultLeaderRetryDelay = 5 * time.Second
)

var (
	ErrNoBrokers = errors.New("busstore: at least one broker is required")
	ErrNoTopic   = errors.New("busstore: topic is required")
	ErrNoDriver  = errors.New("busstore: bus driver is required")
)

// Option configures a Store.
type Option = opts.Option[settings]

type settings struct {
	brokers          []bus.Broker
	topic            string
	partition        int32
	nodeID           func() string
	maxBytes         int
	codec            codec.Codec
	driver           bus.Driver
	logger           *slog.Logger
	hooks            []Hook
	leaderRetryDelay time.Duration
	metrics          *metrics.Collector
}

func defaultSettings() settings {
	return settings{
		nodeID:           uuidx.NodeID,
		maxBytes:         DefaultMaxBytes,
		codec:            codec.JSON(),
		logger:           slog.Default(),
		leaderRetryDelay: DefaultLeaderRetryDelay,
	}
}

func (s *settings) validate() error {
	switch {
	case len(s.brokers) == 0:
		return ErrNoBrokers
	case s.topic == "":
		return ErrNoTopic
	case s.driver == nil:
		return ErrNoDriver
	case s.partition < 0:
		return fmt.Errorf("busstore: partition must not be negative, got %d", s.partition)
	case s.maxBytes <= 0:
		return fmt.Errorf("busstore: max bytes must be positive, got %d", s.maxBytes)
	case s.leaderRetryDelay <= 0:
		return fmt.Errorf("busstore: leader retry delay must be positive, got %s", s.leaderRetryDelay)
	case s.codec == nil:
		return errors.New("busstore: codec is required")
	case s.nodeID == nil:
		return errors.New("busstore: node id generator is required")
	}
	return nil
}

var (
	// Topic is the bus topic every node publishes to and reads from.
	Topic = opts.ForName[settings, string]("topic")
	// Partition is the topic partition, 0 unless configured.
	Partition = opts.ForName[settings, int32]("partition")
	// MaxBytes bounds a single message, DefaultMaxBytes unless configured.
	MaxBytes = opts.ForName[settings, int]("maxBytes")
	// Codec replaces the default JSON envelope codec.
	Codec = opts.ForName[settings, codec.Codec]("codec")
	// Driver supplies the producer and consumer.
	Driver = opts.ForName[settings, bus.Driver]("driver")
	// Logger replaces slog.Default().
	Logger = opts.ForName[settings, *slog.Logger]("logger")
	// LeaderRetryDelay replaces DefaultLeaderRetryDelay.
	LeaderRetryDelay = opts.ForName[settings, time.Duration]("leaderRetryDelay")
	// Metrics records store activity on a prometheus collector.
	Metrics = opts.ForName[settings, *metrics.Collector]("metrics")
)

// Brokers sets the bus nodes to bootstrap from.
func Brokers(broker bus.Broker, extra ...bus.Broker) opts.Option[settings] {
	return opts.Type[settings](func(o *settings) error {
		o.brokers = append(o.brokers, broker)
		o.brokers = append(o.brokers, extra...)
		return nil
	})
}

// NodeID sets the generator for this node's identity. It is called once.
func NodeID(fn func() string) opts.Option[settings] {
	return opts.Type[settings](func(o *settings) error {
		if fn == nil {
			return errors.New("busstore: node id generator must not be nil")
		}
		o.nodeID = fn
		return nil
	})
}

// Hooks registers observers for local publish, subscribe and unsubscribe notifications.
func Hooks(hook Hook, extra ...Hook) opts.Option[settings] {
	return opts.Type[settings](func(o *settings) error {
		for _, h := range append([]Hook{hook}, extra...) {
			if h != nil {
				o.hooks = append(o.hooks, h)
			}
		}
		return nil
	})
}

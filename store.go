package busstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/casualjim/busstore/bus"
	"github.com/casualjim/busstore/codec"
	"github.com/casualjim/busstore/internal/gate"
	"github.com/casualjim/busstore/internal/metrics"
	"github.com/casualjim/busstore/internal/registry"
	"github.com/casualjim/busstore/pkg/slogx"
	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
	"github.com/sourcegraph/conc/panics"
)

// Handler receives the arguments of a delivered event.
type Handler func(args ...any)

// Store distributes events between the nodes sharing one topic partition.
// One store is created per process; it is safe for concurrent use.
type Store struct {
	nodeID  string
	target  bus.Target
	codec   codec.Codec
	log     *slog.Logger
	hooks   []Hook
	metrics *metrics.Collector

	producer bus.Producer
	consumer bus.Consumer
	outbound gate.Gate
	inbound  gate.Gate
	loop     *deliveryLoop

	subs    registry.Registry[Handler]
	clients registry.Registry[*Client]

	ctx         context.Context
	cancel      context.CancelFunc
	destroyed   atomic.Bool
	destroyOnce sync.Once
}

// New connects a store to the bus. The producer and consumer become ready in
// the background; publishes issued before that are buffered.
func New(options ...Option) (*Store, error) {
	cfg := defaultSettings()
	if err := opts.Apply(&cfg, options); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	nodeID := cfg.nodeID()
	if nodeID == "" {
		return nil, fmt.Errorf("busstore: node id generator returned an empty id")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		nodeID:  nodeID,
		target:  bus.Target{Topic: cfg.topic, Partition: cfg.partition},
		codec:   cfg.codec,
		log:     cfg.logger.With(slogx.LoggerName("busstore"), slogx.NodeID(nodeID)),
		hooks:   cfg.hooks,
		metrics: cfg.metrics,
		subs:    registry.New[Handler](),
		clients: registry.New[*Client](),
		ctx:     ctx,
		cancel:  cancel,
	}

	producer, err := cfg.driver.NewProducer(bus.Config{
		Brokers:  cfg.brokers,
		ClientID: nodeID + "-producer",
		MaxBytes: cfg.maxBytes,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("busstore: failed to create producer: %w", err)
	}
	consumer, err := cfg.driver.NewConsumer(bus.Config{
		Brokers:  cfg.brokers,
		ClientID: nodeID + "-consumer",
		Group:    nodeID,
		MaxBytes: cfg.maxBytes,
	})
	if err != nil {
		cancel()
		if cerr := producer.Close(); cerr != nil {
			s.log.Error("failed to close producer", slogx.Error(cerr))
		}
		return nil, fmt.Errorf("busstore: failed to create consumer: %w", err)
	}
	s.producer = producer
	s.consumer = consumer
	s.loop = newDeliveryLoop(s, cfg.leaderRetryDelay)

	s.inbound.Run(s.loop.start)
	producer.OnReady(func() {
		s.log.Info("producer ready", slog.Int("pending", s.outbound.Pending()))
		s.outbound.MarkReady()
		s.metrics.SetPendingPublish(0)
	})
	consumer.OnReady(func() {
		s.log.Info("consumer ready", slog.String("target", s.target.String()))
		s.inbound.MarkReady()
	})
	return s, nil
}

func (s *Store) NodeID() string { return s.nodeID }

func (s *Store) Topic() string { return s.target.Topic }

func (s *Store) Partition() int32 { return s.target.Partition }

// Publish broadcasts an event to every other node. It never blocks on the bus
// and never fails: errors are logged.
func (s *Store) Publish(name string, args ...any) {
	if s.destroyed.Load() {
		s.log.Debug("dropping publish on destroyed store", slogx.Event(name))
		return
	}
	env := codec.Envelope{
		NodeID: s.nodeID,
		Name:   name,
		Args:   slices.Clone(args),
		SentAt: strfmt.DateTime(time.Now()),
	}
	if env.Args == nil {
		env.Args = []any{}
	}
	s.outbound.Run(func() { s.send(env) })
	s.metrics.SetPendingPublish(s.outbound.Pending())
}

func (s *Store) send(env codec.Envelope) {
	if s.destroyed.Load() {
		return
	}
	data, err := s.codec.Pack(env)
	if err != nil {
		s.log.Error("failed to pack event", slogx.Event(env.Name), slogx.Error(err))
		s.metrics.IncPublishErrors()
		s.notifySent(env.Name, err)
		return
	}

	s.producer.Send(s.ctx, s.target, [][]byte{data}, func(err error) {
		if err != nil {
			s.log.Error("failed to publish event", slogx.Event(env.Name), slogx.Error(err))
			s.metrics.IncPublishErrors()
		}
		s.notifySent(env.Name, err)
	})
	s.metrics.IncPublished()

	for _, h := range s.hooks {
		h.OnPublish(env.Name, env.Args)
	}
}

func (s *Store) notifySent(name string, err error) {
	for _, h := range s.hooks {
		h.OnSent(name, err)
	}
}

// Subscribe registers handler for name, replacing any previous handler.
func (s *Store) Subscribe(name string, handler Handler) {
	if handler == nil {
		s.log.Warn("ignoring subscription without handler", slogx.Event(name))
		return
	}
	if s.subs.Set(name, handler) {
		s.log.Warn("subscription collision, replacing handler", slogx.Event(name))
	}
	s.metrics.SetSubscriptions(s.subs.Len())

	for _, h := range s.hooks {
		h.OnSubscribe(name)
	}
}

// Unsubscribe removes the handler for name. Unknown names are ignored.
func (s *Store) Unsubscribe(name string) {
	s.subs.Del(name)
	s.metrics.SetSubscriptions(s.subs.Len())

	for _, h := range s.hooks {
		h.OnUnsubscribe(name)
	}
}

// Subscriptions lists the event names with a registered handler.
func (s *Store) Subscriptions() []string {
	return s.subs.Names()
}

// Destroy stops delivery, drops every client and closes the bus connections.
// It is safe to call more than once.
func (s *Store) Destroy() {
	s.destroyOnce.Do(func() {
		s.destroyed.Store(true)
		s.loop.teardown()
		s.cancel()

		for _, id := range s.clients.Names() {
			s.DestroyClient(id, 0)
		}

		if err := s.producer.Close(); err != nil {
			s.log.Error("failed to close producer", slogx.Error(err))
		}
		if err := s.consumer.Close(); err != nil {
			s.log.Error("failed to close consumer", slogx.Error(err))
		}
		s.log.Info("store destroyed")
	})
}

// dispatch decodes one message and hands it to the matching handler.
func (s *Store) dispatch(msg bus.Message) {
	env, err := s.codec.Unpack(msg.Value)
	if err != nil {
		s.log.Warn("skipping undecodable message",
			slog.Int64("offset", msg.Offset),
			slogx.ByteString("payload", msg.Value),
			slogx.Error(err),
		)
		s.metrics.IncSkipped(metrics.ReasonUndecodable)
		return
	}
	if env.NodeID == s.nodeID {
		s.metrics.IncSkipped(metrics.ReasonSelf)
		return
	}
	handler, ok := s.subs.Get(env.Name)
	if !ok {
		s.metrics.IncSkipped(metrics.ReasonUnsubscribed)
		return
	}

	var pc panics.Catcher
	pc.Try(func() { handler(env.Args...) })
	if r := pc.Recovered(); r != nil {
		s.log.Error("event handler panicked", slogx.Event(env.Name), slogx.Error(r.AsError()))
		s.metrics.IncHandlerPanics()
		return
	}
	s.metrics.IncDelivered()
}

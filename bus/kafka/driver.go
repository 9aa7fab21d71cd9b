// Package kafka implements the bus contracts on Apache Kafka with franz-go.
//
// Producers write to an explicit partition. Consumers join a consumer group
// with auto commit disabled; a message is committed only when the store calls
// its CommitFunc, so whatever a crashed node read but never committed is
// delivered to the group again.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/casualjim/busstore/bus"
	"github.com/casualjim/busstore/pkg/slogx"
	"github.com/cenkalti/backoff/v5"
	"github.com/fogfish/opts"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kslog"
)

var _ bus.Driver = (*Driver)(nil)

const (
	defaultMaxReadyInterval = 30 * time.Second
	defaultRequestTimeout   = 10 * time.Second
)

type Driver struct {
	logger           *slog.Logger
	maxReadyInterval time.Duration
	requestTimeout   time.Duration
	fromEnd          bool
	extra            []kgo.Opt
}

var (
	// Logger receives both driver and franz-go client logs.
	Logger = opts.ForName[Driver, *slog.Logger]("logger")
	// MaxReadyInterval caps the wait between connection attempts.
	MaxReadyInterval = opts.ForName[Driver, time.Duration]("maxReadyInterval")
	// RequestTimeout bounds metadata lookups and commits.
	RequestTimeout = opts.ForName[Driver, time.Duration]("requestTimeout")
	// FromEnd makes a group without committed offsets start at the end of the
	// partition instead of the beginning.
	FromEnd = opts.ForName[Driver, bool]("fromEnd")
)

// ClientOpts appends raw franz-go options to every client the driver creates.
func ClientOpts(o ...kgo.Opt) opts.Option[Driver] {
	return opts.Type[Driver](func(d *Driver) error {
		d.extra = append(d.extra, o...)
		return nil
	})
}

// New creates a Kafka driver.
func New(options ...opts.Option[Driver]) *Driver {
	d := &Driver{
		logger:           slog.Default(),
		maxReadyInterval: defaultMaxReadyInterval,
		requestTimeout:   defaultRequestTimeout,
	}
	if err := opts.Apply(d, options); err != nil {
		panic(err)
	}
	return d
}

func (d *Driver) clientOpts(cfg bus.Config) []kgo.Opt {
	o := []kgo.Opt{
		kgo.SeedBrokers(bus.Addrs(cfg.Brokers)...),
		kgo.WithLogger(kslog.New(d.logger)),
	}
	if cfg.ClientID != "" {
		o = append(o, kgo.ClientID(cfg.ClientID))
	}
	return append(o, d.extra...)
}

func (d *Driver) NewProducer(cfg bus.Config) (bus.Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	o := append(d.clientOpts(cfg), kgo.RecordPartitioner(kgo.ManualPartitioner()))
	if cfg.MaxBytes > 0 {
		o = append(o, kgo.ProducerBatchMaxBytes(int32(cfg.MaxBytes)))
	}
	client, err := kgo.NewClient(o...)
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create producer client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &producer{
		client: client,
		cancel: cancel,
		log:    d.logger.With(slogx.LoggerName("kafka.producer"), slog.String("client_id", cfg.ClientID)),
	}
	go d.awaitReady(ctx, client, &p.ready, p.log)
	return p, nil
}

func (d *Driver) NewConsumer(cfg bus.Config) (bus.Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("kafka: consumer group is required")
	}
	reset := kgo.NewOffset().AtStart()
	if d.fromEnd {
		reset = kgo.NewOffset().AtEnd()
	}
	o := append(d.clientOpts(cfg),
		kgo.ConsumerGroup(cfg.Group),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(reset),
	)
	if cfg.MaxBytes > 0 {
		o = append(o,
			kgo.FetchMaxBytes(int32(cfg.MaxBytes)),
			kgo.FetchMaxPartitionBytes(int32(cfg.MaxBytes)),
		)
	}
	client, err := kgo.NewClient(o...)
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create consumer client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := newConsumer(ctx, cancel, client, d.requestTimeout,
		d.logger.With(slogx.LoggerName("kafka.consumer"), slog.String("group", cfg.Group)))
	go d.awaitReady(ctx, client, &c.ready, c.log)
	return c, nil
}

// awaitReady pings the cluster until a broker answers, backing off between
// attempts.
func (d *Driver) awaitReady(ctx context.Context, client *kgo.Client, ready *bus.ReadyNotifier, log *slog.Logger) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = d.maxReadyInterval

	for {
		pingCtx, cancel := context.WithTimeout(ctx, d.requestTimeout)
		err := client.Ping(pingCtx)
		cancel()
		if err == nil {
			ready.Fire()
			return
		}
		if ctx.Err() != nil {
			return
		}

		sleep := b.NextBackOff()
		if sleep == backoff.Stop {
			sleep = d.maxReadyInterval
		}
		log.Warn("kafka not reachable, retrying", slog.Duration("delay", sleep), slogx.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

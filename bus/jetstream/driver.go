// Package jetstream implements the bus contracts on NATS JetStream.
//
// A topic maps to a stream named after it and a partition to the subject
// "<topic>.<partition>". A consumer group is a durable pull consumer with
// explicit acks and a single message in flight, so acking is committing and
// anything read but never acked is delivered to the durable again.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/busstore/bus"
	"github.com/casualjim/busstore/pkg/natsx"
	"github.com/casualjim/busstore/pkg/slogx"
	"github.com/cenkalti/backoff/v5"
	"github.com/fogfish/opts"
	"github.com/nats-io/nats.go"
	njs "github.com/nats-io/nats.go/jetstream"
)

var _ bus.Driver = (*Driver)(nil)

// errCodeClusterNotAvailable is the JetStream API error returned while the
// meta leader or a stream leader is being elected.
const errCodeClusterNotAvailable njs.ErrorCode = 10008

const (
	defaultMaxReadyInterval = 30 * time.Second
	defaultRequestTimeout   = 10 * time.Second
	defaultAckWait          = 30 * time.Second
)

type Driver struct {
	logger           *slog.Logger
	maxReadyInterval time.Duration
	requestTimeout   time.Duration
	ackWait          time.Duration
	replicas         int
	memoryStorage    bool
	fromEnd          bool
	servers          []string
	natsOpts         []nats.Option
}

var (
	Logger = opts.ForName[Driver, *slog.Logger]("logger")
	// MaxReadyInterval caps the wait between readiness checks.
	MaxReadyInterval = opts.ForName[Driver, time.Duration]("maxReadyInterval")
	// RequestTimeout bounds JetStream API calls.
	RequestTimeout = opts.ForName[Driver, time.Duration]("requestTimeout")
	// AckWait is how long an unacked message stays with a live consumer
	// before JetStream delivers it again.
	AckWait = opts.ForName[Driver, time.Duration]("ackWait")
	// Replicas sets the replica count of streams the driver creates.
	Replicas = opts.ForName[Driver, int]("replicas")
	// MemoryStorage keeps created streams in memory instead of on disk.
	MemoryStorage = opts.ForName[Driver, bool]("memoryStorage")
	// Servers replaces the configured brokers with NATS urls.
	Servers = opts.ForName[Driver, []string]("servers")
	// FromEnd makes a new durable start with the next message published
	// instead of the first one stored.
	FromEnd = opts.ForName[Driver, bool]("fromEnd")
)

// ConnOpts appends options to every NATS connection the driver opens.
func ConnOpts(o ...nats.Option) opts.Option[Driver] {
	return opts.Type[Driver](func(d *Driver) error {
		d.natsOpts = append(d.natsOpts, o...)
		return nil
	})
}

// New creates a JetStream driver.
func New(options ...opts.Option[Driver]) *Driver {
	d := &Driver{
		logger:           slog.Default(),
		maxReadyInterval: defaultMaxReadyInterval,
		requestTimeout:   defaultRequestTimeout,
		ackWait:          defaultAckWait,
		replicas:         1,
	}
	if err := opts.Apply(d, options); err != nil {
		panic(err)
	}
	return d
}

func (d *Driver) NewProducer(cfg bus.Config) (bus.Producer, error) {
	c, err := d.connect(cfg, "jetstream.producer")
	if err != nil {
		return nil, err
	}
	return newProducer(c, cfg.MaxBytes), nil
}

func (d *Driver) NewConsumer(cfg bus.Config) (bus.Consumer, error) {
	if cfg.Group == "" {
		return nil, fmt.Errorf("jetstream: consumer group is required")
	}
	c, err := d.connect(cfg, "jetstream.consumer")
	if err != nil {
		return nil, err
	}
	return newConsumer(c, sanitize(cfg.Group)), nil
}

// conn is the connection state shared by producers and consumers.
type conn struct {
	driver   *Driver
	nc       *nats.Conn
	js       njs.JetStream
	ready    bus.ReadyNotifier
	log      *slog.Logger
	maxBytes int
	streams  *haxmap.Map[string, njs.Stream]

	ctx    context.Context
	cancel context.CancelFunc
}

func (d *Driver) connect(cfg bus.Config, name string) (*conn, error) {
	servers := d.servers
	if len(servers) == 0 {
		servers = bus.Addrs(cfg.Brokers)
	}
	nc, err := natsx.NewClient(cfg.ClientID, servers, d.natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("jetstream: failed to connect: %w", err)
	}
	js, err := njs.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: failed to create context: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		driver:   d,
		nc:       nc,
		js:       js,
		log:      d.logger.With(slogx.LoggerName(name), slog.String("client_id", cfg.ClientID)),
		maxBytes: cfg.MaxBytes,
		streams:  haxmap.New[string, njs.Stream](),
		ctx:      ctx,
		cancel:   cancel,
	}
	go c.awaitReady()
	return c, nil
}

// awaitReady waits until the server answers JetStream requests, backing off
// between attempts.
func (c *conn) awaitReady() {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = c.driver.maxReadyInterval

	for {
		err := nats.ErrConnectionClosed
		if c.nc.IsConnected() {
			ctx, cancel := context.WithTimeout(c.ctx, c.driver.requestTimeout)
			_, err = c.js.AccountInfo(ctx)
			cancel()
		}
		if err == nil {
			c.ready.Fire()
			return
		}
		if c.ctx.Err() != nil {
			return
		}

		sleep := b.NextBackOff()
		if sleep == backoff.Stop {
			sleep = c.driver.maxReadyInterval
		}
		c.log.Warn("jetstream not available, retrying", slog.Duration("delay", sleep), slogx.Error(err))
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// stream creates or updates the stream backing topic once per connection.
func (c *conn) stream(ctx context.Context, topic string) (njs.Stream, error) {
	if s, ok := c.streams.Get(topic); ok {
		return s, nil
	}

	cfg := njs.StreamConfig{
		Name:     streamName(topic),
		Subjects: []string{topic + ".*"},
		Replicas: c.driver.replicas,
		Storage:  njs.FileStorage,
	}
	if c.driver.memoryStorage {
		cfg.Storage = njs.MemoryStorage
	}
	if c.maxBytes > 0 {
		limit := int64(c.maxBytes)
		// the server refuses limits above its max payload
		if mp := c.nc.MaxPayload(); mp > 0 && mp < limit {
			limit = mp
		}
		cfg.MaxMsgSize = int32(limit)
	}

	ctx, cancel := context.WithTimeout(ctx, c.driver.requestTimeout)
	defer cancel()
	s, err := c.js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, classify(fmt.Sprintf("stream %s", cfg.Name), err)
	}
	c.streams.Set(topic, s)
	return s, nil
}

func (c *conn) close() {
	c.cancel()
	if c.nc.IsConnected() {
		if err := c.nc.FlushTimeout(c.driver.requestTimeout); err != nil {
			c.log.Warn("failed to flush connection", slogx.Error(err))
		}
	}
	c.nc.Close()
}

// classify wraps err, marking leader elections as bus.ErrLeaderNotElected.
func classify(what string, err error) error {
	if leaderless(err) {
		return fmt.Errorf("%w for %s: %w", bus.ErrLeaderNotElected, what, err)
	}
	return fmt.Errorf("jetstream: %s: %w", what, err)
}

func leaderless(err error) bool {
	if err == nil {
		return false
	}
	var jsErr njs.JetStreamError
	if errors.As(err, &jsErr) && jsErr.APIError() != nil && jsErr.APIError().ErrorCode == errCodeClusterNotAvailable {
		return true
	}
	// no responders means the stream has no leader to answer yet
	return errors.Is(err, nats.ErrNoResponders)
}

var nameReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "/", "_", "\\", "_")

func sanitize(name string) string {
	return nameReplacer.Replace(name)
}

func streamName(topic string) string {
	return sanitize(topic)
}

func subject(target bus.Target) string {
	return target.Topic + "." + strconv.Itoa(int(target.Partition))
}

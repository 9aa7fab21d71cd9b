package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/casualjim/busstore/bus"
	"github.com/casualjim/busstore/pkg/slogx"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

type consumer struct {
	client  *kgo.Client
	admin   *kadm.Client
	ready   bus.ReadyNotifier
	log     *slog.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newConsumer(ctx context.Context, cancel context.CancelFunc, client *kgo.Client, timeout time.Duration, log *slog.Logger) *consumer {
	return &consumer{
		client:  client,
		admin:   kadm.NewClient(client),
		log:     log,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *consumer) OnReady(cb func()) { c.ready.OnReady(cb) }

// Poll checks that the partition has a leader, joins the group for the topic
// and streams the partition's records.
func (c *consumer) Poll(ctx context.Context, target bus.Target, cb func(bus.Subscription, error)) {
	go func() {
		if c.ctx.Err() != nil {
			cb(nil, bus.ErrClosed)
			return
		}
		if err := c.checkLeader(ctx, target); err != nil {
			cb(nil, err)
			return
		}

		c.client.AddConsumeTopics(target.Topic)
		stream := bus.NewStream()
		go c.fetch(ctx, target, stream)
		cb(stream, nil)
	}()
}

func (c *consumer) checkLeader(ctx context.Context, target bus.Target) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	topics, err := c.admin.ListTopics(ctx, target.Topic)
	if err != nil {
		return fmt.Errorf("kafka: failed to load metadata for %s: %w", target.Topic, err)
	}
	topic, ok := topics[target.Topic]
	if !ok {
		return fmt.Errorf("kafka: no metadata for topic %s", target.Topic)
	}
	if topic.Err != nil {
		if leaderless(topic.Err) {
			return fmt.Errorf("%w for %s: %w", bus.ErrLeaderNotElected, target, topic.Err)
		}
		return fmt.Errorf("kafka: topic %s: %w", target.Topic, topic.Err)
	}
	part, ok := topic.Partitions[target.Partition]
	if !ok {
		return fmt.Errorf("kafka: topic %s has no partition %d", target.Topic, target.Partition)
	}
	if part.Leader < 0 || leaderless(part.Err) {
		return fmt.Errorf("%w for %s", bus.ErrLeaderNotElected, target)
	}
	if part.Err != nil {
		return fmt.Errorf("kafka: partition %s: %w", target, part.Err)
	}
	return nil
}

func leaderless(err error) bool {
	return errors.Is(err, kerr.LeaderNotAvailable) ||
		errors.Is(err, kerr.NotLeaderForPartition) ||
		errors.Is(err, kerr.ElectionNotNeeded)
}

func (c *consumer) fetch(ctx context.Context, target bus.Target, stream *bus.Stream) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			stream.Fail(fmt.Errorf("kafka: fetch %s/%d: %w", topic, partition, err))
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			if ctx.Err() != nil || rec.Topic != target.Topic || rec.Partition != target.Partition {
				return
			}
			msg := bus.Message{
				Topic:     rec.Topic,
				Partition: rec.Partition,
				Offset:    rec.Offset,
				Value:     rec.Value,
			}
			stream.Deliver(ctx, msg, func() { c.commit(rec) })
		})
	}
}

func (c *consumer) commit(rec *kgo.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.client.CommitRecords(ctx, rec); err != nil {
		c.log.Error("failed to commit record",
			slog.String("topic", rec.Topic),
			slog.Int("partition", int(rec.Partition)),
			slog.Int64("offset", rec.Offset),
			slogx.Error(err),
		)
	}
}

// Close leaves the group without committing anything read but not committed.
func (c *consumer) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.client.Close()
	})
	return nil
}

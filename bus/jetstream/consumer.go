package jetstream

import (
	"context"
	"sync"

	"github.com/casualjim/busstore/bus"
	"github.com/casualjim/busstore/pkg/slogx"
	njs "github.com/nats-io/nats.go/jetstream"
)

type consumer struct {
	conn    *conn
	durable string

	mu       sync.Mutex
	consumes []njs.ConsumeContext
	inflight njs.Msg
	closed   bool
}

func newConsumer(c *conn, durable string) *consumer {
	return &consumer{conn: c, durable: durable}
}

func (c *consumer) OnReady(cb func()) { c.conn.ready.OnReady(cb) }

// Poll makes sure the stream and the durable exist, then consumes the
// partition subject.
func (c *consumer) Poll(ctx context.Context, target bus.Target, cb func(bus.Subscription, error)) {
	go func() {
		sub, err := c.poll(ctx, target)
		cb(sub, err)
	}()
}

func (c *consumer) poll(ctx context.Context, target bus.Target) (bus.Subscription, error) {
	if c.isClosed() {
		return nil, bus.ErrClosed
	}
	stream, err := c.conn.stream(ctx, target.Topic)
	if err != nil {
		return nil, err
	}

	cfg := njs.ConsumerConfig{
		Durable:       c.durable,
		FilterSubject: subject(target),
		AckPolicy:     njs.AckExplicitPolicy,
		AckWait:       c.conn.driver.ackWait,
		MaxAckPending: 1,
		DeliverPolicy: njs.DeliverAllPolicy,
	}
	if c.conn.driver.fromEnd {
		cfg.DeliverPolicy = njs.DeliverNewPolicy
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.conn.driver.requestTimeout)
	defer cancel()
	cons, err := stream.CreateOrUpdateConsumer(reqCtx, cfg)
	if err != nil {
		return nil, classify("consumer "+c.durable, err)
	}

	sub := bus.NewStream()
	deliverCtx, stopDeliver := context.WithCancel(ctx)
	cc, err := cons.Consume(func(m njs.Msg) {
		msg := bus.Message{Topic: target.Topic, Partition: target.Partition, Value: m.Data()}
		if meta, err := m.Metadata(); err == nil {
			msg.Offset = int64(meta.Sequence.Stream)
		}
		c.track(m)
		sub.Deliver(deliverCtx, msg, func() { c.ack(m) })
	}, njs.ConsumeErrHandler(func(_ njs.ConsumeContext, err error) {
		sub.Fail(err)
	}))
	if err != nil {
		stopDeliver()
		return nil, classify("consume "+subject(target), err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		stopDeliver()
		cc.Stop()
		return nil, bus.ErrClosed
	}
	c.consumes = append(c.consumes, cc)
	c.mu.Unlock()

	context.AfterFunc(deliverCtx, cc.Stop)
	context.AfterFunc(c.conn.ctx, stopDeliver)
	return sub, nil
}

func (c *consumer) track(m njs.Msg) {
	c.mu.Lock()
	c.inflight = m
	c.mu.Unlock()
}

func (c *consumer) ack(m njs.Msg) {
	c.mu.Lock()
	if c.inflight == m {
		c.inflight = nil
	}
	c.mu.Unlock()
	if err := m.Ack(); err != nil {
		c.conn.log.Error("failed to ack message", slogx.Error(err))
	}
}

func (c *consumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops consuming and hands the unacked message, if any, back to the
// durable so the next consumer sees it without waiting for AckWait.
func (c *consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	consumes := c.consumes
	inflight := c.inflight
	c.consumes, c.inflight = nil, nil
	c.mu.Unlock()

	for _, cc := range consumes {
		cc.Stop()
	}
	if inflight != nil {
		if err := inflight.Nak(); err != nil {
			c.conn.log.Warn("failed to return unacked message", slogx.Error(err))
		}
	}
	c.conn.close()
	return nil
}

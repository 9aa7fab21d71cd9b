package jetstream

import (
	"context"
	"fmt"
	"sync"

	"github.com/casualjim/busstore/bus"
	njs "github.com/nats-io/nats.go/jetstream"
)

type sendRequest struct {
	ctx      context.Context
	target   bus.Target
	payloads [][]byte
	done     func(error)
}

// producer hands sends to a single worker so stream lookups never run on the
// caller's goroutine and publishes keep their order.
type producer struct {
	conn     *conn
	maxBytes int

	mu      sync.Mutex
	closed  bool
	pending []sendRequest
	wake    chan struct{}
}

func newProducer(c *conn, maxBytes int) *producer {
	p := &producer{
		conn:     c,
		maxBytes: maxBytes,
		wake:     make(chan struct{}, 1),
	}
	go p.run()
	return p
}

func (p *producer) OnReady(cb func()) { p.conn.ready.OnReady(cb) }

// Send queues payloads for publishing and returns immediately. done runs once
// every publish is acknowledged by the stream, with the first failure if any.
func (p *producer) Send(ctx context.Context, target bus.Target, payloads [][]byte, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	for _, pl := range payloads {
		if p.maxBytes > 0 && len(pl) > p.maxBytes {
			done(fmt.Errorf("jetstream: message of %d bytes exceeds max bytes %d", len(pl), p.maxBytes))
			return
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		done(bus.ErrClosed)
		return
	}
	p.pending = append(p.pending, sendRequest{ctx: ctx, target: target, payloads: payloads, done: done})
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *producer) take() []sendRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	reqs := p.pending
	p.pending = nil
	return reqs
}

func (p *producer) run() {
	for {
		select {
		case <-p.conn.ctx.Done():
			for _, req := range p.take() {
				req.done(bus.ErrClosed)
			}
			return
		case <-p.wake:
			for _, req := range p.take() {
				p.publish(req)
			}
		}
	}
}

func (p *producer) publish(req sendRequest) {
	if err := req.ctx.Err(); err != nil {
		req.done(err)
		return
	}
	stream, err := p.conn.stream(req.ctx, req.target.Topic)
	if err != nil {
		req.done(err)
		return
	}
	expect := njs.WithExpectStream(stream.CachedInfo().Config.Name)

	var (
		futures []njs.PubAckFuture
		sendErr error
	)
	for _, pl := range req.payloads {
		f, err := p.conn.js.PublishAsync(subject(req.target), pl, expect)
		if err != nil {
			sendErr = fmt.Errorf("jetstream: publish to %s: %w", req.target, err)
			break
		}
		futures = append(futures, f)
	}

	go func() {
		first := sendErr
		for _, f := range futures {
			select {
			case <-f.Ok():
			case err := <-f.Err():
				if first == nil {
					first = err
				}
			case <-req.ctx.Done():
				if first == nil {
					first = req.ctx.Err()
				}
			}
		}
		req.done(first)
	}()
}

func (p *producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.conn.close()
	return nil
}

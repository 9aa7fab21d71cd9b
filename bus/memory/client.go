package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/casualjim/busstore/bus"
)

type producer struct {
	cluster  *Cluster
	maxBytes int
	ready    bus.ReadyNotifier

	closeOnce sync.Once
	closed    chan struct{}
}

func (p *producer) OnReady(cb func()) { p.ready.OnReady(cb) }

// Send appends payloads to the target partition and reports the outcome
// before returning.
func (p *producer) Send(ctx context.Context, target bus.Target, payloads [][]byte, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	select {
	case <-p.closed:
		done(bus.ErrClosed)
		return
	case <-ctx.Done():
		done(ctx.Err())
		return
	default:
	}
	if !p.ready.Fired() {
		done(fmt.Errorf("memory: producer not ready"))
		return
	}
	for _, pl := range payloads {
		if p.maxBytes > 0 && len(pl) > p.maxBytes {
			done(fmt.Errorf("memory: message of %d bytes exceeds max bytes %d", len(pl), p.maxBytes))
			return
		}
	}
	p.cluster.partition(target).append(payloads)
	done(nil)
}

func (p *producer) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

type consumer struct {
	cluster *Cluster
	group   *group
	ready   bus.ReadyNotifier

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *consumer) OnReady(cb func()) { c.ready.OnReady(cb) }

// Poll answers asynchronously, like a network client would.
func (c *consumer) Poll(ctx context.Context, target bus.Target, cb func(bus.Subscription, error)) {
	select {
	case <-c.closed:
		go cb(nil, bus.ErrClosed)
		return
	default:
	}
	if c.cluster.takeLeaderless() {
		go cb(nil, fmt.Errorf("%w for %s", bus.ErrLeaderNotElected, target))
		return
	}

	stream := bus.NewStream()
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		select {
		case <-c.closed:
		case <-ctx.Done():
		}
	}()
	go c.fetch(ctx, target, stream)
	go cb(stream, nil)
}

func (c *consumer) fetch(ctx context.Context, target bus.Target, stream *bus.Stream) {
	part := c.cluster.partition(target)
	offset := c.group.committed(target)
	for {
		value, ok, next := part.at(offset)
		if !ok {
			select {
			case <-next:
				continue
			case <-ctx.Done():
				return
			}
		}

		msg := bus.Message{Topic: target.Topic, Partition: target.Partition, Offset: offset, Value: value}
		at := offset
		commit := func() { c.group.commit(target, at) }
		if !stream.Deliver(ctx, msg, commit) {
			return
		}
		offset++

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Close stops every fetch loop. A delivery already in progress completes.
func (c *consumer) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

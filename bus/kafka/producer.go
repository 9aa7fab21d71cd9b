package kafka

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/casualjim/busstore/bus"
	"github.com/casualjim/busstore/pkg/slogx"
	"github.com/twmb/franz-go/pkg/kgo"
)

const flushTimeout = 5 * time.Second

type producer struct {
	client *kgo.Client
	ready  bus.ReadyNotifier
	log    *slog.Logger

	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once
}

func (p *producer) OnReady(cb func()) { p.ready.OnReady(cb) }

// Send produces every payload to the target partition. done runs once after
// the last record is acknowledged, with the first failure if any.
func (p *producer) Send(ctx context.Context, target bus.Target, payloads [][]byte, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	if p.closed.Load() {
		done(bus.ErrClosed)
		return
	}
	if len(payloads) == 0 {
		done(nil)
		return
	}

	var (
		mu        sync.Mutex
		firstErr  error
		remaining = len(payloads)
	)
	for _, pl := range payloads {
		rec := &kgo.Record{Topic: target.Topic, Partition: target.Partition, Value: pl}
		p.client.Produce(ctx, rec, func(_ *kgo.Record, err error) {
			mu.Lock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			remaining--
			last := remaining == 0
			result := firstErr
			mu.Unlock()

			if last {
				done(result)
			}
		})
	}
}

// Close flushes buffered records and disconnects.
func (p *producer) Close() error {
	p.once.Do(func() {
		p.closed.Store(true)
		p.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := p.client.Flush(ctx); err != nil {
			p.log.Warn("failed to flush producer", slogx.Error(err))
		}
		p.client.Close()
	})
	return nil
}

// Package memory implements the bus contracts on top of an in-process,
// append-only log. A Cluster plays the part of the broker: every producer and
// consumer created from the same Cluster shares its topics, partitions and
// consumer group offsets, so several stores in one process behave like
// separate nodes talking through Kafka.
//
// Messages are delivered at least once. A consumer starts reading at its
// group's committed offset, so messages a previous consumer of the same group
// received but never committed are delivered again.
package memory

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/busstore/bus"
	"github.com/fogfish/opts"
)

var _ bus.Driver = (*Cluster)(nil)

type Cluster struct {
	partitions *haxmap.Map[string, *partition]
	groups     *haxmap.Map[string, *group]

	leaderless atomic.Int32
	held       bool
	hold       chan struct{}
	holdOnce   sync.Once
}

var (
	// HeldReadiness keeps every producer and consumer unready until Release.
	HeldReadiness = opts.ForName[Cluster, bool]("held")
)

// LeaderlessPolls makes the next n polls fail with bus.ErrLeaderNotElected.
func LeaderlessPolls(n int) opts.Option[Cluster] {
	return opts.Type[Cluster](func(c *Cluster) error {
		if n < 0 {
			return fmt.Errorf("leaderless polls must not be negative, got %d", n)
		}
		c.leaderless.Store(int32(n))
		return nil
	})
}

// New creates an empty cluster.
func New(options ...opts.Option[Cluster]) *Cluster {
	c := &Cluster{
		partitions: haxmap.New[string, *partition](),
		groups:     haxmap.New[string, *group](),
		hold:       make(chan struct{}),
	}
	if err := opts.Apply(c, options); err != nil {
		panic(err)
	}
	if !c.held {
		c.Release()
	}
	return c
}

// Release lets held producers and consumers become ready.
func (c *Cluster) Release() {
	c.holdOnce.Do(func() { close(c.hold) })
}

// FailPolls makes the next n polls fail with bus.ErrLeaderNotElected.
func (c *Cluster) FailPolls(n int) {
	c.leaderless.Store(int32(n))
}

// Records returns a copy of every payload appended to target.
func (c *Cluster) Records(target bus.Target) [][]byte {
	p, ok := c.partitions.Get(target.String())
	if !ok {
		return nil
	}
	return p.snapshot()
}

// Committed returns the next offset the group reads from target.
func (c *Cluster) Committed(groupID string, target bus.Target) int64 {
	g, ok := c.groups.Get(groupID)
	if !ok {
		return 0
	}
	return g.committed(target)
}

func (c *Cluster) partition(target bus.Target) *partition {
	p, _ := c.partitions.GetOrCompute(target.String(), newPartition)
	return p
}

func (c *Cluster) group(id string) *group {
	g, _ := c.groups.GetOrCompute(id, func() *group {
		return &group{offsets: make(map[bus.Target]int64)}
	})
	return g
}

// takeLeaderless consumes one pending leader failure.
func (c *Cluster) takeLeaderless() bool {
	for {
		n := c.leaderless.Load()
		if n <= 0 {
			return false
		}
		if c.leaderless.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (c *Cluster) whenReady(n *bus.ReadyNotifier, done <-chan struct{}) {
	go func() {
		select {
		case <-c.hold:
			n.Fire()
		case <-done:
		}
	}()
}

func (c *Cluster) NewProducer(cfg bus.Config) (bus.Producer, error) {
	p := &producer{
		cluster:  c,
		maxBytes: cfg.MaxBytes,
		closed:   make(chan struct{}),
	}
	c.whenReady(&p.ready, p.closed)
	return p, nil
}

func (c *Cluster) NewConsumer(cfg bus.Config) (bus.Consumer, error) {
	if cfg.Group == "" {
		return nil, fmt.Errorf("memory: consumer group is required")
	}
	cn := &consumer{
		cluster: c,
		group:   c.group(cfg.Group),
		closed:  make(chan struct{}),
	}
	c.whenReady(&cn.ready, cn.closed)
	return cn, nil
}

type partition struct {
	mu      sync.Mutex
	records [][]byte
	notify  chan struct{}
}

func newPartition() *partition {
	return &partition{notify: make(chan struct{})}
}

func (p *partition) append(payloads [][]byte) {
	p.mu.Lock()
	for _, pl := range payloads {
		p.records = append(p.records, append([]byte(nil), pl...))
	}
	close(p.notify)
	p.notify = make(chan struct{})
	p.mu.Unlock()
}

// at returns the record at offset, or a channel closed on the next append.
func (p *partition) at(offset int64) ([]byte, bool, <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if offset < int64(len(p.records)) {
		return p.records[offset], true, nil
	}
	return nil, false, p.notify
}

func (p *partition) snapshot() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.records))
	copy(out, p.records)
	return out
}

type group struct {
	mu      sync.Mutex
	offsets map[bus.Target]int64
}

func (g *group) committed(target bus.Target) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.offsets[target]
}

func (g *group) commit(target bus.Target, offset int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if offset+1 > g.offsets[target] {
		g.offsets[target] = offset + 1
	}
}

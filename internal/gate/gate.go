// Package gate defers work until an asynchronous resource becomes ready.
package gate

import "sync"

// Gate runs operations immediately once it is ready and queues them before.
// Each submitted operation runs exactly once, and queued operations run in
// submission order before anything submitted after readiness.
type Gate struct {
	mu       sync.Mutex
	ready    bool
	draining bool
	queue    []func()
}

// Run executes op now when the gate is ready, otherwise queues it.
func (g *Gate) Run(op func()) {
	if op == nil {
		return
	}
	g.mu.Lock()
	if !g.ready {
		g.queue = append(g.queue, op)
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	op()
}

// MarkReady flushes the queue and opens the gate. Operations queued while the
// flush is running are flushed by the same call. Later calls do nothing.
func (g *Gate) MarkReady() {
	g.mu.Lock()
	if g.ready || g.draining {
		g.mu.Unlock()
		return
	}
	g.draining = true
	for len(g.queue) > 0 {
		batch := g.queue
		g.queue = nil
		g.mu.Unlock()

		for _, op := range batch {
			op()
		}

		g.mu.Lock()
	}
	g.ready = true
	g.draining = false
	g.mu.Unlock()
}

func (g *Gate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

// Pending returns the number of queued operations.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

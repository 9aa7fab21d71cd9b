package bus

import (
	"context"
	"sync"
)

// ReadyNotifier fires registered callbacks once. Callbacks registered after
// Fire run immediately on the caller's goroutine.
type ReadyNotifier struct {
	mu    sync.Mutex
	fired bool
	cbs   []func()
}

func (r *ReadyNotifier) OnReady(cb func()) {
	if cb == nil {
		return
	}
	r.mu.Lock()
	if r.fired {
		r.mu.Unlock()
		cb()
		return
	}
	r.cbs = append(r.cbs, cb)
	r.mu.Unlock()
}

// Fire runs every pending callback. Only the first call has an effect.
func (r *ReadyNotifier) Fire() {
	r.mu.Lock()
	if r.fired {
		r.mu.Unlock()
		return
	}
	r.fired = true
	cbs := r.cbs
	r.cbs = nil
	r.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

func (r *ReadyNotifier) Fired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fired
}

// Stream is a Subscription drivers can feed from their fetch loop.
// Deliver blocks until a message handler is registered so nothing read
// from the partition is dropped before the subscriber is attached.
type Stream struct {
	mu       sync.Mutex
	onMsg    func(Message, CommitFunc)
	onErr    func(error)
	attached chan struct{}
	once     sync.Once
}

func NewStream() *Stream {
	return &Stream{attached: make(chan struct{})}
}

func (s *Stream) OnMessage(fn func(Message, CommitFunc)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onMsg = fn
	s.mu.Unlock()
	s.once.Do(func() { close(s.attached) })
}

func (s *Stream) OnError(fn func(error)) {
	s.mu.Lock()
	s.onErr = fn
	s.mu.Unlock()
}

// Deliver hands msg to the registered handler. It returns false when ctx ends
// before a handler is attached.
func (s *Stream) Deliver(ctx context.Context, msg Message, commit CommitFunc) bool {
	select {
	case <-s.attached:
	case <-ctx.Done():
		return false
	}
	s.mu.Lock()
	fn := s.onMsg
	s.mu.Unlock()
	fn(msg, commit)
	return true
}

// Fail reports err to the error handler, if any.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	fn := s.onErr
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

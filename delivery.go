package busstore

import (
	"log/slog"
	"sync"
	"time"

	"github.com/casualjim/busstore/bus"
	"github.com/casualjim/busstore/pkg/slogx"
	"github.com/cenkalti/backoff/v5"
)

// State is a phase of the delivery loop.
type State int

const (
	// StateIdle is the state before the consumer is ready.
	StateIdle State = iota
	StatePolling
	StateSubscribed
	// StateBackoff waits to poll again after a leader-not-elected error.
	StateBackoff
	// StateFailed is reached on any other poll error. The loop does not recover.
	StateFailed
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateSubscribed:
		return "subscribed"
	case StateBackoff:
		return "backoff"
	case StateFailed:
		return "failed"
	case StateTornDown:
		return "torn down"
	default:
		return "unknown"
	}
}

type deliveryLoop struct {
	store   *Store
	backoff backoff.BackOff

	mu    sync.Mutex
	state State
	timer *time.Timer
}

func newDeliveryLoop(s *Store, retryDelay time.Duration) *deliveryLoop {
	return &deliveryLoop{
		store:   s,
		backoff: backoff.NewConstantBackOff(retryDelay),
	}
}

func (l *deliveryLoop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// transition moves to next unless the loop was torn down.
func (l *deliveryLoop) transition(next State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateTornDown {
		return false
	}
	l.state = next
	return true
}

func (l *deliveryLoop) start() {
	l.poll()
}

func (l *deliveryLoop) poll() {
	if !l.transition(StatePolling) {
		return
	}
	l.store.consumer.Poll(l.store.ctx, l.store.target, l.onPoll)
}

func (l *deliveryLoop) onPoll(sub bus.Subscription, err error) {
	log := l.store.log
	if err != nil {
		if bus.IsLeaderNotElected(err) {
			l.retry(err)
			return
		}
		if l.transition(StateFailed) {
			log.Error("poll failed, delivery stopped", slog.String("target", l.store.target.String()), slogx.Error(err))
		}
		return
	}

	if !l.transition(StateSubscribed) {
		return
	}
	log.Info("subscribed", slog.String("target", l.store.target.String()))
	sub.OnError(func(err error) {
		log.Error("subscription error", slogx.Error(err))
	})
	sub.OnMessage(l.handle)
}

func (l *deliveryLoop) retry(cause error) {
	delay := l.backoff.NextBackOff()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateTornDown {
		return
	}
	l.state = StateBackoff
	l.timer = time.AfterFunc(delay, l.poll)

	l.store.log.Warn("partition leader not elected, polling again",
		slog.String("target", l.store.target.String()),
		slog.Duration("delay", delay),
		slogx.Error(cause),
	)
	l.store.metrics.IncPollRetries()
}

// handle dispatches then commits. Messages arriving after teardown are left
// uncommitted.
func (l *deliveryLoop) handle(msg bus.Message, commit bus.CommitFunc) {
	if l.State() == StateTornDown {
		return
	}
	defer commit()
	l.store.dispatch(msg)
}

func (l *deliveryLoop) teardown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateTornDown
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// DeliveryState reports the phase of the store's delivery loop.
func (s *Store) DeliveryState() State {
	return s.loop.State()
}

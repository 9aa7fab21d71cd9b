// Package bustest holds the acceptance suite every bus driver must pass.
package bustest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/casualjim/busstore/bus"
	"github.com/casualjim/busstore/pkg/uuidx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a driver and a fresh target nobody else writes to.
type Factory func(t *testing.T) (bus.Driver, bus.Target)

// Timeout bounds every wait in the suite.
var Timeout = 20 * time.Second

type acceptanceTest struct {
	name string
	test func(t *testing.T, factory Factory)
}

// Run runs the acceptance suite against a driver implementation.
func Run(t *testing.T, name string, factory Factory) {
	tests := []acceptanceTest{
		{"becomes ready", testReady},
		{"delivers in partition order", testOrder},
		{"separate groups each see every message", testGroups},
		{"redelivers uncommitted messages", testRedelivery},
		{"rejects sends after close", testSendAfterClose},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", name, tt.name), func(t *testing.T) {
			tt.test(t, factory)
		})
	}
}

func config(group string) bus.Config {
	return bus.Config{
		Brokers:  []bus.Broker{{Host: "localhost", Port: bus.DefaultPort}},
		ClientID: group,
		Group:    group,
		MaxBytes: 2_000_000,
	}
}

func waitReady(t *testing.T, onReady func(func())) {
	t.Helper()
	ready := make(chan struct{})
	var once sync.Once
	onReady(func() { once.Do(func() { close(ready) }) })
	select {
	case <-ready:
	case <-time.After(Timeout):
		t.Fatal("timeout waiting for readiness")
	}
}

func newProducer(t *testing.T, driver bus.Driver) bus.Producer {
	t.Helper()
	p, err := driver.NewProducer(config(uuidx.NewString() + "-producer"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	waitReady(t, p.OnReady)
	return p
}

func newConsumer(t *testing.T, driver bus.Driver, group string) bus.Consumer {
	t.Helper()
	c, err := driver.NewConsumer(config(group))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	waitReady(t, c.OnReady)
	return c
}

func send(t *testing.T, p bus.Producer, target bus.Target, payloads ...string) {
	t.Helper()
	raw := make([][]byte, len(payloads))
	for i, pl := range payloads {
		raw[i] = []byte(pl)
	}
	errc := make(chan error, 1)
	p.Send(context.Background(), target, raw, func(err error) { errc <- err })
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(Timeout):
		t.Fatal("timeout waiting for send")
	}
}

type received struct {
	value  string
	commit bus.CommitFunc
}

// poll subscribes and streams messages into a channel. Polls failing with
// leader-not-elected are retried, as the store would.
func poll(t *testing.T, c bus.Consumer, target bus.Target) <-chan received {
	t.Helper()
	out := make(chan received, 64)
	deadline := time.Now().Add(Timeout)
	for {
		subc := make(chan bus.Subscription, 1)
		errc := make(chan error, 1)
		c.Poll(context.Background(), target, func(sub bus.Subscription, err error) {
			if err != nil {
				errc <- err
				return
			}
			subc <- sub
		})
		select {
		case sub := <-subc:
			sub.OnMessage(func(m bus.Message, commit bus.CommitFunc) {
				out <- received{value: string(m.Value), commit: commit}
			})
			return out
		case err := <-errc:
			if !bus.IsLeaderNotElected(err) || time.Now().After(deadline) {
				require.NoError(t, err)
			}
			time.Sleep(200 * time.Millisecond)
		case <-time.After(Timeout):
			t.Fatal("timeout waiting for poll")
		}
	}
}

func collect(t *testing.T, in <-chan received, n int, commit bool) []string {
	t.Helper()
	var got []string
	for len(got) < n {
		select {
		case r := <-in:
			got = append(got, r.value)
			if commit {
				r.commit()
			}
		case <-time.After(Timeout):
			t.Fatalf("timeout after %d of %d messages", len(got), n)
		}
	}
	return got
}

func testReady(t *testing.T, factory Factory) {
	driver, _ := factory(t)
	newProducer(t, driver)
	newConsumer(t, driver, uuidx.NewString())
}

func testOrder(t *testing.T, factory Factory) {
	driver, target := factory(t)
	p := newProducer(t, driver)
	c := newConsumer(t, driver, uuidx.NewString())
	msgs := poll(t, c, target)

	send(t, p, target, "one", "two")
	send(t, p, target, "three")

	assert.Equal(t, []string{"one", "two", "three"}, collect(t, msgs, 3, true))
}

func testGroups(t *testing.T, factory Factory) {
	driver, target := factory(t)
	p := newProducer(t, driver)
	a := poll(t, newConsumer(t, driver, uuidx.NewString()), target)
	b := poll(t, newConsumer(t, driver, uuidx.NewString()), target)

	send(t, p, target, "hello", "world")

	assert.Equal(t, []string{"hello", "world"}, collect(t, a, 2, true))
	assert.Equal(t, []string{"hello", "world"}, collect(t, b, 2, true))
}

func testRedelivery(t *testing.T, factory Factory) {
	driver, target := factory(t)
	group := uuidx.NewString()
	p := newProducer(t, driver)

	first := newConsumer(t, driver, group)
	msgs := poll(t, first, target)
	send(t, p, target, "committed", "dangling")

	in := collect(t, msgs, 1, true)
	assert.Equal(t, []string{"committed"}, in)
	// read but never commit the second message
	assert.Equal(t, []string{"dangling"}, collect(t, msgs, 1, false))
	require.NoError(t, first.Close())

	second := newConsumer(t, driver, group)
	again := poll(t, second, target)
	assert.Equal(t, []string{"dangling"}, collect(t, again, 1, true))
}

func testSendAfterClose(t *testing.T, factory Factory) {
	driver, target := factory(t)
	p := newProducer(t, driver)
	require.NoError(t, p.Close())

	errc := make(chan error, 1)
	p.Send(context.Background(), target, [][]byte{[]byte("late")}, func(err error) { errc <- err })
	select {
	case err := <-errc:
		assert.Error(t, err)
	case <-time.After(Timeout):
		t.Fatal("timeout waiting for send result")
	}
}

package jetstream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/casualjim/busstore/bus"
	"github.com/casualjim/busstore/bus/bustest"
	"github.com/casualjim/busstore/pkg/uuidx"
	"github.com/nats-io/nats.go"
	njs "github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJetStreamDriver(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}

	bustest.Run(t, "jetstream", func(t *testing.T) (bus.Driver, bus.Target) {
		return New(Servers([]string{url}), MemoryStorage(true)), bus.Target{Topic: "busstore-test-" + uuidx.NewString()}
	})
}

func TestLeaderless(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cluster not available", &njs.APIError{Code: 503, ErrorCode: errCodeClusterNotAvailable}, true},
		{"wrapped cluster not available", fmt.Errorf("create: %w", &njs.APIError{ErrorCode: errCodeClusterNotAvailable}), true},
		{"no responders", nats.ErrNoResponders, true},
		{"request timeout", context.DeadlineExceeded, false},
		{"wrapped request timeout", fmt.Errorf("stream s: %w", context.DeadlineExceeded), false},
		{"stream not found", &njs.APIError{Code: 404, ErrorCode: njs.JSErrCodeStreamNotFound}, false},
		{"other", errors.New("permission denied"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, leaderless(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	err := classify("stream s", nats.ErrNoResponders)
	assert.True(t, bus.IsLeaderNotElected(err))
	assert.ErrorIs(t, err, nats.ErrNoResponders)

	err = classify("stream s", errors.New("boom"))
	assert.False(t, bus.IsLeaderNotElected(err))
	assert.ErrorContains(t, err, "jetstream: stream s: boom")
}

func TestNames(t *testing.T) {
	assert.Equal(t, "chat_rooms", streamName("chat.rooms"))
	assert.Equal(t, "a_b_c", sanitize("a*b>c"))
	assert.Equal(t, "chat.rooms.3", subject(bus.Target{Topic: "chat.rooms", Partition: 3}))
}

func TestNewConsumerRequiresGroup(t *testing.T) {
	_, err := New().NewConsumer(bus.Config{})
	assert.ErrorContains(t, err, "group")
}

func TestSendDoesNotBlockOnStreamLookup(t *testing.T) {
	// nothing listens here; the connection keeps retrying in the background
	d := New(Servers([]string{"nats://127.0.0.1:1"}), RequestTimeout(500*time.Millisecond))
	p, err := d.NewProducer(bus.Config{ClientID: "unreachable"})
	require.NoError(t, err)
	defer p.Close()

	errs := make(chan error, 2)
	start := time.Now()
	p.Send(context.Background(), bus.Target{Topic: "orders"}, [][]byte{[]byte("a")}, func(err error) { errs <- err })
	p.Send(context.Background(), bus.Target{Topic: "orders"}, [][]byte{[]byte("b")}, func(err error) { errs <- err })
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	for range 2 {
		select {
		case err := <-errs:
			assert.Error(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("send never completed")
		}
	}
}

func TestSendAfterClose(t *testing.T) {
	d := New(Servers([]string{"nats://127.0.0.1:1"}))
	p, err := d.NewProducer(bus.Config{ClientID: "closed"})
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	var got error
	p.Send(context.Background(), bus.Target{Topic: "orders"}, [][]byte{[]byte("a")}, func(err error) { got = err })
	assert.ErrorIs(t, got, bus.ErrClosed)
}

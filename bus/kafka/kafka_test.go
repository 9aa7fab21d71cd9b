package kafka

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/casualjim/busstore/bus"
	"github.com/casualjim/busstore/bus/bustest"
	"github.com/casualjim/busstore/pkg/uuidx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

func brokers(t *testing.T) []bus.Broker {
	t.Helper()
	raw := os.Getenv("BUSSTORE_KAFKA_BROKERS")
	if raw == "" {
		t.Skip("BUSSTORE_KAFKA_BROKERS not set")
	}
	b, err := bus.ParseBrokers(raw)
	require.NoError(t, err)
	return b
}

func createTopic(t *testing.T, seeds []bus.Broker) string {
	t.Helper()
	client, err := kgo.NewClient(kgo.SeedBrokers(bus.Addrs(seeds)...))
	require.NoError(t, err)
	defer client.Close()
	admin := kadm.NewClient(client)

	topic := "busstore-test-" + uuidx.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resp, err := admin.CreateTopics(ctx, 1, 1, nil, topic)
	require.NoError(t, err)
	for _, r := range resp {
		require.NoError(t, r.Err)
	}

	t.Cleanup(func() {
		c, err := kgo.NewClient(kgo.SeedBrokers(bus.Addrs(seeds)...))
		if err != nil {
			return
		}
		defer c.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = kadm.NewClient(c).DeleteTopics(ctx, topic)
	})
	return topic
}

func TestKafkaDriver(t *testing.T) {
	seeds := brokers(t)
	bustest.Run(t, "kafka", func(t *testing.T) (bus.Driver, bus.Target) {
		topic := createTopic(t, seeds)
		return New(ClientOpts(kgo.SeedBrokers(bus.Addrs(seeds)...))), bus.Target{Topic: topic}
	})
}

func TestNewRequiresBrokers(t *testing.T) {
	d := New()
	_, err := d.NewProducer(bus.Config{})
	assert.Error(t, err)
	_, err = d.NewConsumer(bus.Config{Group: "g"})
	assert.Error(t, err)
	_, err = d.NewConsumer(bus.Config{Brokers: []bus.Broker{{Host: "localhost"}}})
	assert.ErrorContains(t, err, "group")
}

func TestLeaderless(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"leader not available", kerr.LeaderNotAvailable, true},
		{"not leader", kerr.NotLeaderForPartition, true},
		{"unknown topic", kerr.UnknownTopicOrPartition, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, leaderless(tt.err))
		})
	}
}

func TestPollMissingPartition(t *testing.T) {
	seeds := brokers(t)
	topic := createTopic(t, seeds)

	d := New()
	c, err := d.NewConsumer(bus.Config{Brokers: seeds, Group: uuidx.NewString()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	errc := make(chan error, 1)
	c.Poll(context.Background(), bus.Target{Topic: topic, Partition: 7}, func(_ bus.Subscription, err error) {
		errc <- err
	})
	select {
	case err := <-errc:
		require.Error(t, err)
		assert.False(t, bus.IsLeaderNotElected(err))
	case <-time.After(bustest.Timeout):
		t.Fatal("timeout waiting for poll")
	}
}

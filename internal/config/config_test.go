package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/casualjim/busstore"
	"github.com/casualjim/busstore/bus"
	"github.com/casualjim/busstore/bus/jetstream"
	"github.com/casualjim/busstore/bus/kafka"
	"github.com/casualjim/busstore/bus/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "busstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, DriverKafka, cfg.Driver)
	assert.Equal(t, busstore.DefaultMaxBytes, cfg.MaxBytes)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "open config")
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
brokers:
  - host: kafka-1
    port: 9093
  - host: kafka-2
topic: dpic
partition: 2
nodeId: node-1234567
maxBytes: 1000
driver: NATS
leaderRetryDelay: 250ms
metrics:
  addr: ":9100"
log:
  json: true
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []bus.Broker{{Host: "kafka-1", Port: 9093}, {Host: "kafka-2", Port: bus.DefaultPort}}, cfg.Brokers)
	assert.Equal(t, "dpic", cfg.Topic)
	assert.EqualValues(t, 2, cfg.Partition)
	assert.Equal(t, "node-1234567", cfg.NodeID)
	assert.Equal(t, 1000, cfg.MaxBytes)
	assert.Equal(t, DriverJetStream, cfg.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.LeaderRetryDelay)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "brokers: [\n"))
	assert.ErrorContains(t, err, "unmarshal config")
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "topic: from-file\n")
	t.Setenv("BUSSTORE_BROKERS", "a:1,b")
	t.Setenv("BUSSTORE_TOPIC", "from-env")
	t.Setenv("BUSSTORE_PARTITION", "3")
	t.Setenv("BUSSTORE_NODE_ID", "env-node")
	t.Setenv("BUSSTORE_MAX_BYTES", "512")
	t.Setenv("BUSSTORE_DRIVER", "memory")
	t.Setenv("BUSSTORE_LEADER_RETRY_DELAY", "2s")
	t.Setenv("BUSSTORE_METRICS_ADDR", ":9999")
	t.Setenv("BUSSTORE_LOG_JSON", "true")
	t.Setenv("BUSSTORE_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []bus.Broker{{Host: "a", Port: 1}, {Host: "b", Port: bus.DefaultPort}}, cfg.Brokers)
	assert.Equal(t, "from-env", cfg.Topic)
	assert.EqualValues(t, 3, cfg.Partition)
	assert.Equal(t, "env-node", cfg.NodeID)
	assert.Equal(t, 512, cfg.MaxBytes)
	assert.Equal(t, DriverMemory, cfg.Driver)
	assert.Equal(t, 2*time.Second, cfg.LeaderRetryDelay)
	assert.Equal(t, ":9999", cfg.Metrics.Addr)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())
}

func TestEnvErrors(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"BUSSTORE_BROKERS", "a:notaport"},
		{"BUSSTORE_PARTITION", "one"},
		{"BUSSTORE_MAX_BYTES", "lots"},
		{"BUSSTORE_LEADER_RETRY_DELAY", "soon"},
		{"BUSSTORE_LOG_JSON", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no brokers", func(c *Config) { c.Brokers = nil }, "broker"},
		{"empty host", func(c *Config) { c.Brokers = []bus.Broker{{Port: 1}} }, "host"},
		{"no topic", func(c *Config) { c.Topic = "" }, "topic"},
		{"negative partition", func(c *Config) { c.Partition = -1 }, "partition"},
		{"no max bytes", func(c *Config) { c.MaxBytes = 0 }, "maxBytes"},
		{"no retry delay", func(c *Config) { c.LeaderRetryDelay = 0 }, "leaderRetryDelay"},
		{"unknown driver", func(c *Config) { c.Driver = "rabbit" }, "driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestSlogLevelFallback(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "chatty"
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestNewDriver(t *testing.T) {
	logger := slog.Default()
	cfg := Default()

	d, err := cfg.NewDriver(logger)
	require.NoError(t, err)
	assert.IsType(t, &kafka.Driver{}, d)

	cfg.Driver = DriverJetStream
	d, err = cfg.NewDriver(logger)
	require.NoError(t, err)
	assert.IsType(t, &jetstream.Driver{}, d)

	cfg.Driver = DriverMemory
	d, err = cfg.NewDriver(logger)
	require.NoError(t, err)
	assert.IsType(t, &memory.Cluster{}, d)

	cfg.Driver = "rabbit"
	_, err = cfg.NewDriver(logger)
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	cfg := Default()
	cfg.Driver = DriverMemory
	cfg.NodeID = "configured-node"
	cfg.Topic = "chat"
	cfg.Partition = 1

	store, err := busstore.New(cfg.Options(memory.New(), slog.Default())...)
	require.NoError(t, err)
	defer store.Destroy()

	assert.Equal(t, "configured-node", store.NodeID())
	assert.Equal(t, "chat", store.Topic())
	assert.EqualValues(t, 1, store.Partition())
}

// Package config loads the busstore command configuration from a YAML file
// and BUSSTORE_* environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/casualjim/busstore"
	"github.com/casualjim/busstore/bus"
	"github.com/casualjim/busstore/bus/jetstream"
	"github.com/casualjim/busstore/bus/kafka"
	"github.com/casualjim/busstore/bus/memory"
	"gopkg.in/yaml.v3"
)

// Bus drivers.
const (
	DriverKafka     = "kafka"
	DriverJetStream = "jetstream"
	DriverMemory    = "memory"
)

const envPrefix = "BUSSTORE_"

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	JSON  bool   `yaml:"json"`
	Level string `yaml:"level"`
}

// Config mirrors the adapter settings: where the bus is, which topic
// partition the nodes share and how this node identifies itself.
type Config struct {
	Brokers          []bus.Broker  `yaml:"brokers"`
	Topic            string        `yaml:"topic"`
	Partition        int32         `yaml:"partition"`
	NodeID           string        `yaml:"nodeId"`
	MaxBytes         int           `yaml:"maxBytes"`
	Driver           string        `yaml:"driver"`
	LeaderRetryDelay time.Duration `yaml:"leaderRetryDelay"`
	Metrics          MetricsConfig `yaml:"metrics"`
	Log              LogConfig     `yaml:"log"`
}

func Default() Config {
	return Config{
		Brokers:          []bus.Broker{{Host: "localhost", Port: bus.DefaultPort}},
		Topic:            "busstore",
		MaxBytes:         busstore.DefaultMaxBytes,
		Driver:           DriverKafka,
		LeaderRetryDelay: busstore.DefaultLeaderRetryDelay,
		Log:              LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, then applies environment overrides. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(envPrefix + key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("BROKERS"); ok {
		brokers, err := bus.ParseBrokers(v)
		if err != nil {
			return fmt.Errorf("%sBROKERS: %w", envPrefix, err)
		}
		c.Brokers = brokers
	}
	if v, ok := get("TOPIC"); ok {
		c.Topic = v
	}
	if v, ok := get("PARTITION"); ok {
		p, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%sPARTITION: %w", envPrefix, err)
		}
		c.Partition = int32(p)
	}
	if v, ok := get("NODE_ID"); ok {
		c.NodeID = v
	}
	if v, ok := get("MAX_BYTES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_BYTES: %w", envPrefix, err)
		}
		c.MaxBytes = n
	}
	if v, ok := get("DRIVER"); ok {
		c.Driver = v
	}
	if v, ok := get("LEADER_RETRY_DELAY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sLEADER_RETRY_DELAY: %w", envPrefix, err)
		}
		c.LeaderRetryDelay = d
	}
	if v, ok := get("METRICS_ADDR"); ok {
		c.Metrics.Addr = v
	}
	if v, ok := get("LOG_JSON"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sLOG_JSON: %w", envPrefix, err)
		}
		c.Log.JSON = b
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	return nil
}

// Normalise trims names, lowercases the driver, resolves the nats alias and
// fills in default broker ports.
func (c *Config) Normalise() {
	c.Topic = strings.TrimSpace(c.Topic)
	c.NodeID = strings.TrimSpace(c.NodeID)
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	if c.Driver == "nats" {
		c.Driver = DriverJetStream
	}
	for i := range c.Brokers {
		if c.Brokers[i].Port == 0 {
			c.Brokers[i].Port = bus.DefaultPort
		}
	}
}

func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one broker is required")
	}
	for _, b := range c.Brokers {
		if strings.TrimSpace(b.Host) == "" {
			return fmt.Errorf("broker host required")
		}
	}
	if c.Topic == "" {
		return fmt.Errorf("topic required")
	}
	if c.Partition < 0 {
		return fmt.Errorf("partition must be >= 0")
	}
	if c.MaxBytes <= 0 {
		return fmt.Errorf("maxBytes must be > 0")
	}
	if c.LeaderRetryDelay <= 0 {
		return fmt.Errorf("leaderRetryDelay must be > 0")
	}
	switch c.Driver {
	case DriverKafka, DriverJetStream, DriverMemory:
	default:
		return fmt.Errorf("driver must be one of %s, %s, %s", DriverKafka, DriverJetStream, DriverMemory)
	}
	return nil
}

// SlogLevel parses Log.Level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// NewDriver builds the configured bus driver.
func (c Config) NewDriver(logger *slog.Logger) (bus.Driver, error) {
	switch c.Driver {
	case DriverKafka:
		return kafka.New(kafka.Logger(logger)), nil
	case DriverJetStream:
		return jetstream.New(jetstream.Logger(logger)), nil
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", c.Driver)
	}
}

// Options turns the configuration into store options.
func (c Config) Options(driver bus.Driver, logger *slog.Logger) []busstore.Option {
	options := []busstore.Option{
		busstore.Brokers(c.Brokers[0], c.Brokers[1:]...),
		busstore.Topic(c.Topic),
		busstore.Partition(c.Partition),
		busstore.MaxBytes(c.MaxBytes),
		busstore.LeaderRetryDelay(c.LeaderRetryDelay),
		busstore.Driver(driver),
		busstore.Logger(logger),
	}
	if c.NodeID != "" {
		id := c.NodeID
		options = append(options, busstore.NodeID(func() string { return id }))
	}
	return options
}

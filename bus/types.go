package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used for brokers listed without a port.
const DefaultPort = 9092

var (
	// ErrLeaderNotElected is reported by Poll when the partition has no leader yet.
	// It is the only poll error a store retries.
	ErrLeaderNotElected = errors.New("Leader not elected")

	// ErrClosed is returned by operations on a closed producer or consumer.
	ErrClosed = errors.New("bus: closed")
)

// IsLeaderNotElected reports whether err means the partition leader is not elected yet.
func IsLeaderNotElected(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrLeaderNotElected) || strings.HasPrefix(err.Error(), ErrLeaderNotElected.Error())
}

// Broker is the address of one bus node.
type Broker struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

func (b Broker) String() string {
	port := b.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(b.Host, strconv.Itoa(port))
}

// ParseBrokers parses a comma separated list of host[:port] entries.
func ParseBrokers(s string) ([]Broker, error) {
	var brokers []Broker
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		host, portStr, err := net.SplitHostPort(part)
		if err != nil {
			// no port
			brokers = append(brokers, Broker{Host: part, Port: DefaultPort})
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid broker port in %q", part)
		}
		brokers = append(brokers, Broker{Host: host, Port: port})
	}
	return brokers, nil
}

// Addrs renders brokers as host:port strings.
func Addrs(brokers []Broker) []string {
	addrs := make([]string, len(brokers))
	for i, b := range brokers {
		addrs[i] = b.String()
	}
	return addrs
}

// Config is shared by producers and consumers.
type Config struct {
	Brokers  []Broker
	ClientID string
	// Group names the consumer group. Producers ignore it.
	Group    string
	MaxBytes int
}

// Target addresses a single topic partition.
type Target struct {
	Topic     string
	Partition int32
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%d", t.Topic, t.Partition)
}

// Message is one record read from a partition.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Value     []byte
}

// CommitFunc acknowledges a message so the group's read position moves past it.
type CommitFunc func()

type Producer interface {
	OnReady(func())
	// Send delivers payloads to target. done is called once with the outcome.
	Send(ctx context.Context, target Target, payloads [][]byte, done func(error))
	Close() error
}

type Consumer interface {
	OnReady(func())
	// Poll starts consuming target. cb receives either a live subscription or an error.
	Poll(ctx context.Context, target Target, cb func(Subscription, error))
	Close() error
}

type Subscription interface {
	OnMessage(func(Message, CommitFunc))
	OnError(func(error))
}

type Driver interface {
	NewProducer(Config) (Producer, error)
	NewConsumer(Config) (Consumer, error)
}

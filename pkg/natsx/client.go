package natsx

import (
	"os"
	"strings"

	"github.com/nats-io/nats.go"
)

// URLs joins server addresses into the comma separated form nats.Connect
// accepts. With no servers it falls back to NATS_URL, then nats.DefaultURL.
func URLs(servers ...string) string {
	if len(servers) == 0 {
		if env := os.Getenv("NATS_URL"); env != "" {
			return env
		}
		return nats.DefaultURL
	}
	urls := make([]string, len(servers))
	for i, s := range servers {
		if strings.Contains(s, "://") {
			urls[i] = s
			continue
		}
		urls[i] = "nats://" + s
	}
	return strings.Join(urls, ",")
}

// NewClient connects to servers under the given client name. The connection
// keeps retrying in the background when the servers are not reachable yet, so
// callers must wait for IsConnected before relying on it.
func NewClient(name string, servers []string, opts ...nats.Option) (*nats.Conn, error) {
	base := []nats.Option{
		nats.Name(name),
		nats.Compression(true),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	}
	return nats.Connect(URLs(servers...), append(base, opts...)...)
}

package busstore

import (
	"sync"
	"time"

	"github.com/alphadose/haxmap"
)

// Client is the scratch space of one connection. Values live only in this
// process and are never shared with other nodes.
type Client struct {
	id     string
	values *haxmap.Map[string, any]

	mu        sync.Mutex
	expiry    *time.Timer
	onDestroy func(*Client)
}

func newClient(id string, onDestroy func(*Client)) *Client {
	return &Client{
		id:        id,
		values:    haxmap.New[string, any](),
		onDestroy: onDestroy,
	}
}

func (c *Client) ID() string { return c.id }

// Get returns the value stored under key. A missing key yields nil, false.
func (c *Client) Get(key string) (any, bool) {
	return c.values.Get(key)
}

func (c *Client) Set(key string, value any) {
	c.values.Set(key, value)
}

// Del removes key. Missing keys are ignored.
func (c *Client) Del(key string) {
	c.values.Del(key)
}

func (c *Client) Has(key string) bool {
	_, ok := c.values.Get(key)
	return ok
}

// Len returns the number of stored keys.
func (c *Client) Len() int {
	return int(c.values.Len())
}

// Destroy drops every value. With a positive expiration the values are kept
// that long first; a later Destroy replaces a pending expiration.
func (c *Client) Destroy(expiration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	if expiration <= 0 {
		c.clear()
		return
	}
	c.expiry = time.AfterFunc(expiration, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.expiry = nil
		c.clear()
	})
}

func (c *Client) clear() {
	var keys []string
	c.values.ForEach(func(k string, _ any) bool {
		keys = append(keys, k)
		return true
	})
	if len(keys) > 0 {
		c.values.Del(keys...)
	}
	if c.onDestroy != nil {
		c.onDestroy(c)
	}
}

// Client returns the scratch client for a connection id, creating it on first use.
func (s *Store) Client(id string) *Client {
	c, _ := s.clients.GetOrAdd(id, func() *Client {
		return newClient(id, s.evictClient)
	})
	return c
}

// evictClient drops c from the cache unless a newer client took its id.
func (s *Store) evictClient(c *Client) {
	s.clients.DelIf(c.id, func(cur *Client) bool { return cur == c })
}

// DestroyClient destroys the client for id if it exists.
func (s *Store) DestroyClient(id string, expiration time.Duration) {
	if c, ok := s.clients.Get(id); ok {
		c.Destroy(expiration)
	}
}

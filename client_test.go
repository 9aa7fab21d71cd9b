package busstore

import (
	"testing"
	"time"

	"github.com/casualjim/busstore/bus/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient(t *testing.T) {
	s := newStore(t, memory.New())

	c := s.Client("conn-1")
	assert.Equal(t, "conn-1", c.ID())
	assert.Same(t, c, s.Client("conn-1"))

	v, ok := c.Get("missing")
	assert.False(t, ok)
	assert.Nil(t, v)
	assert.False(t, c.Has("missing"))

	c.Set("user", "ada")
	c.Set("rooms", []string{"a", "b"})
	v, ok = c.Get("user")
	assert.True(t, ok)
	assert.Equal(t, "ada", v)
	assert.True(t, c.Has("rooms"))
	assert.Equal(t, 2, c.Len())

	c.Set("user", "grace")
	v, _ = c.Get("user")
	assert.Equal(t, "grace", v)

	c.Del("user")
	c.Del("never-set")
	assert.False(t, c.Has("user"))
	assert.Equal(t, 1, c.Len())

	other := s.Client("conn-2")
	assert.False(t, other.Has("rooms"))
}

func TestClientDestroy(t *testing.T) {
	s := newStore(t, memory.New())

	t.Run("immediately", func(t *testing.T) {
		c := s.Client("now")
		c.Set("k", 1)
		c.Destroy(0)
		assert.False(t, c.Has("k"))
		assert.Zero(t, c.Len())
		assert.NotSame(t, c, s.Client("now"))
	})

	t.Run("after expiration", func(t *testing.T) {
		c := s.Client("later")
		c.Set("k", 1)
		c.Destroy(30 * time.Millisecond)
		assert.True(t, c.Has("k"))
		require.Eventually(t, func() bool { return !c.Has("k") }, waitFor, tick)
	})

	t.Run("later destroy replaces pending expiration", func(t *testing.T) {
		c := s.Client("replaced")
		c.Set("k", 1)
		c.Destroy(10 * time.Millisecond)
		c.Destroy(time.Hour)
		time.Sleep(50 * time.Millisecond)
		assert.True(t, c.Has("k"))
		c.Destroy(-1)
		assert.False(t, c.Has("k"))
	})

	t.Run("stale handle keeps the newer client", func(t *testing.T) {
		old := s.Client("conn")
		old.Destroy(0)

		fresh := s.Client("conn")
		require.NotSame(t, old, fresh)
		fresh.Set("k", "v")

		old.Destroy(0)
		assert.Same(t, fresh, s.Client("conn"))
		v, ok := s.Client("conn").Get("k")
		assert.True(t, ok)
		assert.Equal(t, "v", v)
	})

	t.Run("stale expiration keeps the newer client", func(t *testing.T) {
		old := s.Client("expiring")
		old.Destroy(0)
		fresh := s.Client("expiring")
		fresh.Set("k", "v")

		old.Destroy(10 * time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		assert.Same(t, fresh, s.Client("expiring"))
		assert.True(t, fresh.Has("k"))
	})

	t.Run("through the store", func(t *testing.T) {
		c := s.Client("store")
		c.Set("k", 1)
		s.DestroyClient("store", 0)
		s.DestroyClient("unknown", 0)
		assert.False(t, c.Has("k"))
	})
}

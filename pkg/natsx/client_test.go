package natsx

import (
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestURLs(t *testing.T) {
	t.Run("falls back to NATS_URL", func(t *testing.T) {
		t.Setenv("NATS_URL", "nats://example:4222")
		assert.Equal(t, "nats://example:4222", URLs())
	})

	t.Run("falls back to the default url", func(t *testing.T) {
		t.Setenv("NATS_URL", "")
		assert.Equal(t, nats.DefaultURL, URLs())
	})

	t.Run("adds the scheme", func(t *testing.T) {
		assert.Equal(t, "nats://a:4222,tls://b:4223", URLs("a:4222", "tls://b:4223"))
	})
}

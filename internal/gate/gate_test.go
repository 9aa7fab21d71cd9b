package gate

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate(t *testing.T) {
	t.Run("queues until ready", func(t *testing.T) {
		var g Gate
		var got []int
		for i := 0; i < 3; i++ {
			g.Run(func() { got = append(got, i) })
		}
		assert.Empty(t, got)
		assert.Equal(t, 3, g.Pending())
		assert.False(t, g.Ready())

		g.MarkReady()
		assert.Equal(t, []int{0, 1, 2}, got)
		assert.Equal(t, 0, g.Pending())
		assert.True(t, g.Ready())
	})

	t.Run("runs immediately once ready", func(t *testing.T) {
		var g Gate
		g.MarkReady()
		ran := false
		g.Run(func() { ran = true })
		assert.True(t, ran)
	})

	t.Run("second mark ready is a no-op", func(t *testing.T) {
		var g Gate
		var n int
		g.Run(func() { n++ })
		g.MarkReady()
		g.MarkReady()
		assert.Equal(t, 1, n)
	})

	t.Run("ignores nil operations", func(t *testing.T) {
		var g Gate
		g.Run(nil)
		assert.Equal(t, 0, g.Pending())
	})

	t.Run("ops submitted during the flush keep their order", func(t *testing.T) {
		var g Gate
		var got []string
		g.Run(func() {
			got = append(got, "first")
			g.Run(func() { got = append(got, "nested") })
		})
		g.Run(func() { got = append(got, "second") })

		g.MarkReady()
		assert.Equal(t, []string{"first", "second", "nested"}, got)

		g.Run(func() { got = append(got, "after") })
		assert.Equal(t, []string{"first", "second", "nested", "after"}, got)
	})
}

func TestGateConcurrentReadiness(t *testing.T) {
	const n = 1000
	for round := 0; round < 20; round++ {
		var g Gate
		counts := make([]atomic.Int32, n)

		var wg sync.WaitGroup
		wg.Add(n + 1)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				g.Run(func() { counts[i].Add(1) })
			}()
		}
		go func() {
			defer wg.Done()
			g.MarkReady()
		}()
		wg.Wait()

		// stragglers queued after the flush finished can't exist: MarkReady
		// only opens the gate with an empty queue
		require.True(t, g.Ready())
		require.Equal(t, 0, g.Pending())
		for i := range counts {
			require.EqualValues(t, 1, counts[i].Load(), "round %d op %d", round, i)
		}
	}
}

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFunc(t *testing.T) {
	t.Run("fires once deadline is reached", func(t *testing.T) {
		c := Fake(epoch)
		fired := 0
		c.AfterFunc(5*time.Second, func() { fired++ })

		c.Advance(4 * time.Second)
		assert.Equal(t, 0, fired)
		assert.Equal(t, 1, c.PendingCount())

		c.Advance(time.Second)
		assert.Equal(t, 1, fired)
		assert.Equal(t, 0, c.PendingCount())

		c.Advance(time.Hour)
		assert.Equal(t, 1, fired)
	})

	t.Run("stop cancels", func(t *testing.T) {
		c := Fake(epoch)
		fired := false
		timer := c.AfterFunc(time.Second, func() { fired = true })

		require.True(t, timer.Stop())
		require.False(t, timer.Stop())
		c.Advance(time.Minute)
		assert.False(t, fired)
	})

	t.Run("fires in deadline order", func(t *testing.T) {
		c := Fake(epoch)
		var order []int
		c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
		c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
		c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

		c.Advance(10 * time.Second)
		assert.Equal(t, []int{1, 2, 3}, order)
	})

	t.Run("callback may schedule another timer", func(t *testing.T) {
		c := Fake(epoch)
		fired := 0
		c.AfterFunc(time.Second, func() {
			fired++
			c.AfterFunc(time.Second, func() { fired++ })
		})

		c.Advance(time.Second)
		assert.Equal(t, 1, fired)
		c.Advance(time.Second)
		assert.Equal(t, 2, fired)
	})
}

func TestFakeTicker(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Minute)
	defer ticker.Stop()

	c.Advance(time.Minute)
	select {
	case ts := <-ticker.C:
		assert.Equal(t, epoch.Add(time.Minute), ts)
	default:
		t.Fatal("expected a tick")
	}

	ticker.Stop()
	c.Advance(time.Minute)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker must not tick")
	default:
	}
}

func TestWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		c.AfterFunc(time.Second, func() { close(done) })
	}()

	c.WaitForTimers(1)
	c.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

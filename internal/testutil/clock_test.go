package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockFrozen(t *testing.T) {
	c := NewClock(Epoch)
	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch, c.Now(), "clock must not tick on its own")
}

func TestClockAdvance(t *testing.T) {
	c := NewClock(Epoch)
	got := c.Advance(5 * time.Second)
	assert.Equal(t, Epoch.Add(5*time.Second), got)
	assert.Equal(t, got, c.Now())
}

func TestClockSet(t *testing.T) {
	c := NewClock(Epoch)
	later := Epoch.Add(time.Hour)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestClockConcurrentAdvance(t *testing.T) {
	c := NewClock(Epoch)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Millisecond)
		}()
	}
	wg.Wait()
	require.Equal(t, Epoch.Add(50*time.Millisecond), c.Now())
}

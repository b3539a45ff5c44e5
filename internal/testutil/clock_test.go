package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_StandsStill(t *testing.T) {
	c := NewManualClock()
	assert.Equal(t, c.Now(), c.Now())
}

func TestManualClock_Advance(t *testing.T) {
	c := NewManualClock()
	start := c.Now()

	got := c.Advance(500 * time.Millisecond)
	assert.Equal(t, start.Add(500*time.Millisecond), got)
	assert.Equal(t, 500*time.Millisecond, c.Now().Sub(start))
}

func TestManualClock_ThreadSafe(t *testing.T) {
	c := NewManualClock()
	start := c.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				c.Advance(time.Millisecond)
				_ = c.Now()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, time.Second, c.Now().Sub(start))
}

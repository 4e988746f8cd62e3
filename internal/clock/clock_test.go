package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNowIsMonotonic(t *testing.T) {
	prev := Now()
	for range 1000 {
		cur := Now()
		assert.GreaterOrEqual(t, int64(cur), int64(prev))
		prev = cur
	}
}

func TestSinceMeasuresSleep(t *testing.T) {
	start := Now()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, Since(start), 5*time.Millisecond)
}

func TestSub(t *testing.T) {
	assert.Equal(t, 1500*time.Nanosecond, Ticks(2000).Sub(Ticks(500)))
	assert.Equal(t, -1500*time.Nanosecond, Ticks(500).Sub(Ticks(2000)))
}

func TestConcurrentReads(t *testing.T) {
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := Now()
			for range 10000 {
				cur := Now()
				assert.GreaterOrEqual(t, int64(cur), int64(prev))
				prev = cur
			}
		}()
	}
	wg.Wait()
}

func BenchmarkNow(b *testing.B) {
	for b.Loop() {
		_ = Now()
	}
}

// Package clock is the timing source read by trace hooks.
package clock

import "time"

// Ticks is a reading of the monotonic clock in nanoseconds since process
// start. Only differences between readings are meaningful.
type Ticks int64

// base carries a monotonic reading, so time.Since(base) only reads the
// runtime's nanosecond clock and skips the wall clock.
var base = time.Now()

// Now reads the clock. It takes no locks and writes no shared state, so any
// number of goroutines may call it at once.
func Now() Ticks {
	return Ticks(time.Since(base))
}

// Since returns the time elapsed since start.
func Since(start Ticks) time.Duration {
	return Now().Sub(start)
}

// Sub returns t-u as a duration.
func (t Ticks) Sub(u Ticks) time.Duration {
	return time.Duration(t - u)
}

// Time maps t to wall clock time, anchored at process start.
func (t Ticks) Time() time.Time {
	return base.Add(time.Duration(t))
}

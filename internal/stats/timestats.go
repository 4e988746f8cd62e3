package stats

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// histogramBins is the number of log-scale buckets. Bucket i holds
// durations around 10^(i/30)/10 ms, so the last one starts near 2 hours.
const histogramBins = 250

// TimeStatistics tracks the duration distribution of one kind of
// operation on a log-scale histogram. It is safe for concurrent use.
type TimeStatistics struct {
	key string

	mu     sync.Mutex
	counts [histogramBins]int
	total  int
	max    float64 // ms
	p95    float64 // ms
}

// NewTimeStatistics returns empty statistics for key.
func NewTimeStatistics(key string) *TimeStatistics {
	return &TimeStatistics{key: key}
}

// Key names the operation the statistics are about.
func (s *TimeStatistics) Key() string { return s.key }

// RegisterDuration adds d and reports whether it is unusually slow: longer
// than the 95th percentile including d, or the longest seen so far.
func (s *TimeStatistics) RegisterDuration(d time.Duration) bool {
	ms := float64(d) / float64(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[bin(ms)]++
	s.total++
	s.max = math.Max(s.max, ms)
	s.p95 = s.percentile95()
	return ms > s.p95 || ms >= s.max
}

func bin(ms float64) int {
	scaled := math.Max(ms*10, 1)
	return min(int(math.Round(math.Log10(scaled)*30)), histogramBins-1)
}

// percentile95 is the lower bound, in milliseconds, of the bucket holding
// the 95th percentile. s.mu is held.
func (s *TimeStatistics) percentile95() float64 {
	index := int(math.Round(float64(s.total) * 0.95))
	count := 0
	for i, c := range s.counts {
		count += c
		if count >= index {
			return math.Pow(10, float64(i)/30) / 10
		}
	}
	return s.max
}

// TimeSnapshot is a point-in-time copy of TimeStatistics.
type TimeSnapshot struct {
	Key          string
	Count        int
	Percentile95 time.Duration
	Max          time.Duration
}

// Snapshot copies the current values.
func (s *TimeStatistics) Snapshot() TimeSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TimeSnapshot{
		Key:          s.key,
		Count:        s.total,
		Percentile95: msToDuration(s.p95),
		Max:          msToDuration(s.max),
	}
}

func (s TimeSnapshot) String() string {
	return fmt.Sprintf("key: %s, count: %d, p95: %.3f ms, max: %.3f ms",
		s.Key, s.Count, durationToMs(s.Percentile95), durationToMs(s.Max))
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

func durationToMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

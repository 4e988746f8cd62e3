package telemetry

import (
	"bytes"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"methodtrace/internal/clock"
	"methodtrace/internal/metadata"
	"methodtrace/internal/stats"
	"methodtrace/internal/trampoline"
)

// SlowCall describes one call that took longer than the 95th percentile
// of its key, or longer than any call before it.
type SlowCall struct {
	Key     string
	Elapsed time.Duration
	Stats   stats.TimeSnapshot
	Trace   string // formatted collector report, if the reporter has one
}

// SlowCallSink receives slow calls. It is called on the goroutine that
// made the call.
type SlowCallSink interface {
	SlowCall(call SlowCall)
}

// LogSink writes slow calls as zerolog warnings.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) SlowCall(call SlowCall) {
	event := s.Logger.Warn().
		Str("key", call.Key).
		Dur("elapsed", call.Elapsed).
		Dur("p95", call.Stats.Percentile95).
		Dur("max", call.Stats.Max).
		Int("count", call.Stats.Count)
	if call.Trace != "" {
		event = event.Str("trace", call.Trace)
	}
	event.Msg("slow call")
}

// SlowCallReporter keeps TimeStatistics per key and forwards calls that
// stand out to a sink. As trampoline hooks it keys calls by method name;
// Start measures arbitrary sections.
type SlowCallReporter struct {
	sink      SlowCallSink
	collector *stats.Collector
	names     names

	mu    sync.Mutex
	byKey map[string]*stats.TimeStatistics
}

var _ trampoline.Hooks = (*SlowCallReporter)(nil)

// ReporterOption configures a SlowCallReporter.
type ReporterOption func(*SlowCallReporter)

// WithCollector attaches the formatted report of c to slow calls.
func WithCollector(c *stats.Collector) ReporterOption {
	return func(r *SlowCallReporter) { r.collector = c }
}

// WithProvider names methods through provider.
func WithProvider(provider metadata.Provider) ReporterOption {
	return func(r *SlowCallReporter) { r.names.provider = provider }
}

// NewSlowCallReporter returns a reporter writing to sink.
func NewSlowCallReporter(sink SlowCallSink, opts ...ReporterOption) *SlowCallReporter {
	r := &SlowCallReporter{
		sink:  sink,
		byKey: make(map[string]*stats.TimeStatistics),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Statistics returns the statistics of key, creating them on first use.
func (r *SlowCallReporter) Statistics(key string) *stats.TimeStatistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, found := r.byKey[key]
	if !found {
		s = stats.NewTimeStatistics(key)
		r.byKey[key] = s
	}
	return s
}

// Observe registers one duration for key and reports it when it is slow.
// It returns whether it was. The trace of a slow call is the report of the
// attached collector, if any.
func (r *SlowCallReporter) Observe(key string, elapsed time.Duration) bool {
	return r.observe(key, elapsed, func() (stats.Report, bool) {
		if r.collector == nil {
			return stats.Report{}, false
		}
		return r.collector.Report(), true
	})
}

func (r *SlowCallReporter) observe(key string, elapsed time.Duration, trace func() (stats.Report, bool)) bool {
	s := r.Statistics(key)
	if !s.RegisterDuration(elapsed) {
		return false
	}
	call := SlowCall{Key: key, Elapsed: elapsed, Stats: s.Snapshot()}
	if report, ok := trace(); ok {
		var buf bytes.Buffer
		if err := stats.Format(&buf, report); err == nil {
			call.Trace = buf.String()
		}
	}
	r.sink.SlowCall(call)
	return true
}

func (r *SlowCallReporter) OnEnter(metadata.Token) clock.Ticks {
	return clock.Now()
}

func (r *SlowCallReporter) OnExit(method metadata.Token, start clock.Ticks) {
	r.Observe(r.names.of(method), clock.Since(start))
}

// Section measures one run of a block of code. A section belongs to the
// goroutine that started it and must end there.
type Section struct {
	reporter *SlowCallReporter
	key      string
	start    clock.Ticks
}

// Start begins a section. When a collector is attached, the calls the
// goroutine makes until End are captured, so a slow section's trace covers
// that section alone. Sections on other goroutines do not disturb it.
//
//	section := reporter.Start("checkout")
//	defer section.End()
func (r *SlowCallReporter) Start(key string) *Section {
	if r.collector != nil {
		r.collector.BeginCapture()
	}
	return &Section{reporter: r, key: key, start: clock.Now()}
}

// End stops the section and reports whether it was slow.
func (s *Section) End() bool {
	elapsed := clock.Since(s.start)
	var (
		report   stats.Report
		captured bool
	)
	if s.reporter.collector != nil {
		report, captured = s.reporter.collector.EndCapture()
	}
	return s.reporter.observe(s.key, elapsed, func() (stats.Report, bool) {
		return report, captured
	})
}

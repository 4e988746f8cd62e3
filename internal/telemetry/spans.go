// Package telemetry turns instrumented calls into OpenTelemetry spans and
// slow-call reports.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"methodtrace/internal/clock"
	"methodtrace/internal/metadata"
	"methodtrace/internal/trampoline"
)

const instrumentationName = "methodtrace"

// Attribute keys set on every span.
const (
	MethodTokenKey = attribute.Key("methodtrace.token")
	MethodNameKey  = attribute.Key("methodtrace.method")
)

// names caches method names resolved through a provider.
type names struct {
	provider metadata.Provider
	cache    sync.Map // metadata.Token -> string
}

func (n *names) of(method metadata.Token) string {
	if name, found := n.cache.Load(method); found {
		return name.(string)
	}
	name := method.String()
	if n.provider != nil {
		if record, err := n.provider.Method(method); err == nil {
			name = record.FullName()
		}
	}
	n.cache.Store(method, name)
	return name
}

// SpanHooks records one span per call. Hooks carry no context, so spans
// are roots; they are created when the call returns, with the start time
// taken on entry.
type SpanHooks struct {
	tracer trace.Tracer
	names  names
}

var _ trampoline.Hooks = (*SpanHooks)(nil)

// NewSpanHooks returns hooks that report to tp. provider names the spans;
// without one, spans are named after the method token.
func NewSpanHooks(tp trace.TracerProvider, provider metadata.Provider) *SpanHooks {
	return &SpanHooks{
		tracer: tp.Tracer(instrumentationName),
		names:  names{provider: provider},
	}
}

func (h *SpanHooks) OnEnter(metadata.Token) clock.Ticks {
	return clock.Now()
}

func (h *SpanHooks) OnExit(method metadata.Token, start clock.Ticks) {
	end := clock.Now()
	name := h.names.of(method)
	_, span := h.tracer.Start(context.Background(), name,
		trace.WithTimestamp(start.Time()),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			MethodTokenKey.Int64(int64(method.Raw())),
			MethodNameKey.String(name),
		),
	)
	span.End(trace.WithTimestamp(end.Time()))
}

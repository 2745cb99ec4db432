package observability

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// LoggerWithTrace returns the global logger enriched with trace_id/span_id
// from ctx when a recording span is present. Log lines from the same
// request then correlate with its exported trace.
func LoggerWithTrace(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return &l
	}
	builder := l.With().Str("trace_id", sc.TraceID().String())
	if sc.HasSpanID() {
		builder = builder.Str("span_id", sc.SpanID().String())
	}
	if sc.IsSampled() {
		builder = builder.Bool("trace_sampled", true)
	}
	l = builder.Logger()
	return &l
}

package otel

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/tarja/internal/requestctx"
)

// TraceContextFrom returns the trace and span ids of the span in ctx. Both
// are empty when tracing is disabled or no span was started.
func TraceContextFrom(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

// LogTraceFields returns a zerolog hook that correlates a log line with the
// document being processed:
//
//	log.Warn().Err(err).Func(otel.LogTraceFields(ctx)).Msg("ner_detect_failed")
//
// It adds trace_id and span_id when a span is active and caller when the
// request came through the API. Absent values are left out.
func LogTraceFields(ctx context.Context) func(e *zerolog.Event) {
	return func(e *zerolog.Event) {
		if traceID, spanID := TraceContextFrom(ctx); traceID != "" {
			e.Str("trace_id", traceID).Str("span_id", spanID)
		}
		if caller := requestctx.Caller(ctx); caller != "" {
			e.Str("caller", caller)
		}
	}
}

package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the voicefront tracer.
const tracerName = "github.com/simpletutor/voicefront"

// StartSpan starts a span on the global voicefront tracer. The caller must
// end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// UtteranceAttributes are the span attributes describing one dispatched
// utterance.
func UtteranceAttributes(id string, generation uint64, audio time.Duration) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("utterance.id", id),
		attribute.Int64("utterance.generation", int64(generation)),
		attribute.Int64("utterance.audio_ms", audio.Milliseconds()),
	}
}

type utteranceKey struct{}

type utteranceTag struct {
	id         string
	generation uint64
}

// WithUtterance tags ctx with the utterance being handled so [Logger] can
// include it.
func WithUtterance(ctx context.Context, id string, generation uint64) context.Context {
	return context.WithValue(ctx, utteranceKey{}, utteranceTag{id: id, generation: generation})
}

// Logger returns the default logger enriched with the utterance tag and the
// active trace and span IDs found in ctx.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if tag, ok := ctx.Value(utteranceKey{}).(utteranceTag); ok {
		l = l.With("utterance_id", tag.id, "generation", tag.generation)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}
	return l
}

package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewProviders_ExportsToRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	mp, tp, err := newProviders(context.Background(), ProviderConfig{Registerer: reg})
	if err != nil {
		t.Fatalf("newProviders: %v", err)
	}
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordUtterance(context.Background(), "segmenter")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "voicefront_capture_utterances") {
			found = true
		}
	}
	if !found {
		t.Error("utterance counter not exported to the registry")
	}
}

func TestNewProviders_SampleRatio(t *testing.T) {
	t.Parallel()

	exp := tracetest.NewInMemoryExporter()
	mp, tp, err := newProviders(context.Background(), ProviderConfig{
		Registerer:       prometheus.NewRegistry(),
		TraceExporter:    exp,
		TraceSampleRatio: 0.000001,
	})
	if err != nil {
		t.Fatalf("newProviders: %v", err)
	}
	defer mp.Shutdown(context.Background())

	for range 20 {
		_, span := tp.Tracer("test").Start(context.Background(), "tutor.utterance")
		span.End()
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	// A near-zero ratio drops virtually every root span.
	if n := len(exp.GetSpans()); n > 1 {
		t.Errorf("recorded %d spans, want at most 1", n)
	}
	_ = tp.Shutdown(context.Background())
}

package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTestTracer swaps the global tracer provider for one that records
// spans in memory and restores the original on cleanup.
func installTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestCorrelationID_NoActiveSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without a span = %q, want empty", got)
	}
}

func TestCorrelationID_EchoesTraceID(t *testing.T) {
	installTestTracer(t)

	ctx, span := StartSpan(context.Background(), "download-audio")
	defer span.End()

	want := span.SpanContext().TraceID().String()
	if got := CorrelationID(ctx); got != want {
		t.Errorf("CorrelationID = %q, want the span's trace ID %q", got, want)
	}
}

func TestStartSpan_RecordsName(t *testing.T) {
	exp := installTestTracer(t)

	_, span := StartSpan(context.Background(), "resolve-video")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "resolve-video" {
		t.Errorf("span name = %q, want resolve-video", spans[0].Name)
	}
}

func TestLogger_AddsTraceAttrs(t *testing.T) {
	installTestTracer(t)

	ctx, span := StartSpan(context.Background(), "transcribe")
	defer span.End()

	var buf bytes.Buffer
	Logger(ctx, slog.New(slog.NewTextHandler(&buf, nil))).Info("processing video")

	for _, attr := range []string{
		"trace_id=" + span.SpanContext().TraceID().String(),
		"span_id=" + span.SpanContext().SpanID().String(),
	} {
		if !strings.Contains(buf.String(), attr) {
			t.Errorf("log line missing %q, got: %s", attr, buf.String())
		}
	}
}

func TestLogger_PassthroughWithoutSpan(t *testing.T) {
	base := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if got := Logger(context.Background(), base); got != base {
		t.Error("Logger without an active span should return base unchanged")
	}
}

func TestLogger_NilBase(t *testing.T) {
	if got := Logger(context.Background(), nil); got != slog.Default() {
		t.Error("Logger with a nil base should fall back to slog.Default()")
	}
}

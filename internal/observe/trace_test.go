package observe

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var hexTraceID = regexp.MustCompile(`^[0-9a-f]{32}$`)

func recordingProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// captureLogs swaps the default logger for one writing into the returned
// buffer until the test ends.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q, want empty", got)
	}

	tp, _ := recordingProvider(t)
	seen := make(map[string]bool)
	for range 20 {
		ctx, span := tp.Tracer("test").Start(context.Background(), "connect")
		id := CorrelationID(ctx)
		span.End()
		if !hexTraceID.MatchString(id) {
			t.Fatalf("CorrelationID = %q, want 32 hex chars", id)
		}
		if seen[id] {
			t.Fatalf("duplicate correlation ID %s", id)
		}
		seen[id] = true
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	tp, exp := recordingProvider(t)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := StartSpan(WithSessionID(context.Background(), "s-1"), "session.Connect")
	if CorrelationID(ctx) == "" {
		t.Error("span context has no trace ID")
	}
	if SessionID(ctx) != "s-1" {
		t.Error("StartSpan dropped the session ID from ctx")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "session.Connect" {
		t.Fatalf("recorded spans = %v, want one session.Connect", spans)
	}
}

func TestLogger_Enrichment(t *testing.T) {
	tp, _ := recordingProvider(t)
	spanCtx, span := tp.Tracer("test").Start(context.Background(), "op")
	t.Cleanup(func() { span.End() })

	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		notWant []string
	}{
		{
			name:    "bare context",
			ctx:     context.Background(),
			notWant: []string{"session_id", "trace_id", "span_id"},
		},
		{
			name:    "session only",
			ctx:     WithSessionID(context.Background(), "abc-123"),
			want:    []string{"session_id=abc-123"},
			notWant: []string{"trace_id"},
		},
		{
			name:    "span only",
			ctx:     spanCtx,
			want:    []string{"trace_id=", "span_id="},
			notWant: []string{"session_id"},
		},
		{
			name: "session and span",
			ctx:  WithSessionID(spanCtx, "abc-123"),
			want: []string{"session_id=abc-123", "trace_id=", "span_id="},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			Logger(tt.ctx).Info("hello")
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(out, nw) {
					t.Errorf("log %q should not contain %q", out, nw)
				}
			}
		})
	}
}

func TestSessionID_Empty(t *testing.T) {
	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID = %q, want empty", got)
	}
}

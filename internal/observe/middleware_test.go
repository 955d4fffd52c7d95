package observe

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

const parentTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

// globalRecorder installs a recording tracer provider as the global one for
// the duration of the test. Middleware starts its spans through it.
func globalRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	tp, exp := recordingProvider(t)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return exp
}

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	})
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	exp := globalRecorder(t)
	m, _ := newTestMetrics(t)

	var inner string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("traceparent", "00-"+parentTraceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if inner != parentTraceID {
		t.Errorf("handler trace ID = %q, want %q", inner, parentTraceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != parentTraceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, parentTraceID)
	}
	if !strings.Contains(rec.Header().Get("traceparent"), parentTraceID) {
		t.Errorf("response traceparent = %q, want it to carry the trace", rec.Header().Get("traceparent"))
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "HTTP GET /status" {
		t.Errorf("span name = %q", s.Name)
	}
	if s.SpanKind != trace.SpanKindServer {
		t.Errorf("span kind = %v, want server", s.SpanKind)
	}
	var status int64
	for _, kv := range s.Attributes {
		if kv.Key == "http.response.status_code" {
			status = kv.Value.AsInt64()
		}
	}
	if status != http.StatusOK {
		t.Errorf("http.response.status_code = %d, want 200", status)
	}
}

func TestMiddleware_StartsNewTrace(t *testing.T) {
	globalRecorder(t)
	m, _ := newTestMetrics(t)

	rec := httptest.NewRecorder()
	Middleware(m)(statusHandler(http.StatusOK)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	cid := rec.Header().Get("X-Correlation-ID")
	if !hexTraceID.MatchString(cid) {
		t.Errorf("X-Correlation-ID = %q, want 32 hex chars", cid)
	}
	if cid == parentTraceID {
		t.Error("new request reused a foreign trace ID")
	}
}

func TestMiddleware_RecordsDurationPerPath(t *testing.T) {
	globalRecorder(t)
	m, reader := newTestMetrics(t)
	h := Middleware(m)(statusHandler(http.StatusOK))

	for _, p := range []string{"/readyz", "/readyz", "/metrics"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	met := findMetric(collect(t, reader), "livevoice.http.request.duration")
	if met == nil {
		t.Fatal("livevoice.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T, want histogram", met.Data)
	}
	counts := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("path"))
		counts[v.AsString()] += dp.Count
	}
	if counts["/readyz"] != 2 || counts["/metrics"] != 1 {
		t.Errorf("per-path counts = %v, want /readyz:2 /metrics:1", counts)
	}
}

func TestMiddleware_LogLevel(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
		logged bool
	}{
		{name: "quiet path ok", path: "/healthz", status: http.StatusOK, logged: false},
		{name: "quiet path failing", path: "/readyz", status: http.StatusServiceUnavailable, logged: true},
		{name: "regular path", path: "/status", status: http.StatusOK, logged: true},
		{name: "regular path error", path: "/status", status: http.StatusInternalServerError, logged: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			globalRecorder(t)
			m, _ := newTestMetrics(t)
			buf := captureLogs(t)

			h := Middleware(m, WithQuietPaths("/healthz", "/readyz"))(statusHandler(tt.status))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			got := strings.Contains(buf.String(), "path="+tt.path)
			if got != tt.logged {
				t.Errorf("logged at info = %v, want %v (output %q)", got, tt.logged, buf.String())
			}
		})
	}
}

package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInitProvider_ServesMetrics(t *testing.T) {
	t.Parallel()

	tel, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion: "test",
		SessionID:      "sess-1",
		SkipGlobal:     true,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	m, err := NewMetrics(tel.MeterProvider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordFrameSent(context.Background(), "audio")

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"livevoice_session_frames_sent",
		`kind="audio"`,
		"go_goroutines",
		`service_instance_id="sess-1"`,
		`service_name="livevoice"`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestInitProvider_Shutdown(t *testing.T) {
	t.Parallel()

	tel, err := InitProvider(context.Background(), ProviderConfig{SkipGlobal: true})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestInitProvider_SeparateRegistries(t *testing.T) {
	t.Parallel()

	a, err := InitProvider(context.Background(), ProviderConfig{SkipGlobal: true})
	if err != nil {
		t.Fatalf("InitProvider a: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	b, err := InitProvider(context.Background(), ProviderConfig{SkipGlobal: true})
	if err != nil {
		t.Fatalf("InitProvider b: %v", err)
	}
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })

	ma, err := NewMetrics(a.MeterProvider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ma.RecordDropped(context.Background(), "not_connected")

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if strings.Contains(rec.Body.String(), "livevoice_session_dropped_payloads") {
		t.Error("second registry exposes metrics recorded on the first")
	}
}

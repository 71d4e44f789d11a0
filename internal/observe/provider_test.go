package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

// restoreGlobals puts back the global OTel providers replaced by InitProvider.
func restoreGlobals(t *testing.T) {
	t.Helper()
	mp, tp := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
	})
}

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestInitProvider_MetricsEnabled(t *testing.T) {
	restoreGlobals(t)
	ctx := context.Background()

	tel, err := InitProvider(ctx, ProviderConfig{ServiceName: "hobbystreak-test", MetricsEnabled: true})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer func() {
		if err := tel.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	}()

	h := tel.MetricsHandler()
	if h == nil {
		t.Fatal("MetricsHandler is nil with metrics enabled")
	}
	tel.Metrics.RecordSessionError(ctx, "setup")

	body := scrape(t, h)
	for _, want := range []string{
		"hobbystreak_voice_session_errors",
		"go_goroutines",
		`service_name="hobbystreak-test"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output missing %s", want)
		}
	}

	// Spans get real trace ids even without an exporter.
	sctx, span := StartSpan(ctx, "voice.connect")
	defer span.End()
	if CorrelationID(sctx) == "" {
		t.Error("tracer provider was not installed")
	}
}

func TestInitProvider_MetricsDisabled(t *testing.T) {
	restoreGlobals(t)
	ctx := context.Background()

	tel, err := InitProvider(ctx, ProviderConfig{})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer tel.Shutdown(ctx)

	if h := tel.MetricsHandler(); h != nil {
		t.Error("MetricsHandler should be nil with metrics disabled")
	}
	if tel.Metrics == nil {
		t.Fatal("Metrics should still be usable")
	}
	tel.Metrics.RecordSessionError(ctx, "setup")
}

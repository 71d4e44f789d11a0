package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader, useTestTracer(t)
}

// serveMux routes req through a ServeMux holding pattern, wrapped in the
// middleware, so the route pattern is known.
func serveMux(m *Metrics, pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rec := httptest.NewRecorder()
	Middleware(m)(mux).ServeHTTP(rec, req)
	return rec
}

func durationPoints(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "hobbystreak.http.request.duration")
	if met == nil {
		return nil
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data: %+v", met.Data)
	}
	return hist.DataPoints
}

func TestMiddleware_SpanNamedByRoute(t *testing.T) {
	m, reader, exp := testSetup(t)

	req := httptest.NewRequest("POST", "/v1/communities/chess/join", nil)
	req.Header.Set(UserHeader, "user-7")
	var user, cid string
	rec := serveMux(m, "POST /v1/communities/{id}/join", func(w http.ResponseWriter, r *http.Request) {
		user = UserID(r.Context())
		cid = CorrelationID(r.Context())
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"community_id":"chess"}`))
	}, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if user != "user-7" {
		t.Errorf("user in handler context = %q", user)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid || len(cid) != 32 {
		t.Errorf("X-Correlation-ID = %q; handler saw %q", got, cid)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d; want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "HTTP POST /v1/communities/{id}/join" {
		t.Errorf("span name = %q", s.Name)
	}
	for key, want := range map[string]string{
		"http.route":                "POST /v1/communities/{id}/join",
		"http.response.status_code": "201",
		"http.response.body.size":   "24",
		string(AttrUserID):          "user-7",
	} {
		if got, _ := spanAttr(s, key); got != want {
			t.Errorf("span %s = %q, want %q", key, got, want)
		}
	}

	points := durationPoints(t, reader)
	if len(points) != 1 {
		t.Fatalf("duration points = %d, want 1", len(points))
	}
	if v, _ := points[0].Attributes.Value("path"); v.AsString() != "POST /v1/communities/{id}/join" {
		t.Errorf("path label = %q; want the route pattern", v.AsString())
	}
	if v, _ := points[0].Attributes.Value("status"); v.AsString() != "201" {
		t.Errorf("status label = %q", v.AsString())
	}
}

func TestMiddleware_RecordsConversation(t *testing.T) {
	m, _, exp := testSetup(t)

	serveMux(m, "POST /v1/coach/chat", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(ConversationHeader, "conv-1")
		_, _ = w.Write([]byte("Keep going!"))
	}, httptest.NewRequest("POST", "/v1/coach/chat", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d; want 1", len(spans))
	}
	if got, _ := spanAttr(spans[0], string(AttrConversationID)); got != "conv-1" {
		t.Errorf("%s = %q, want conv-1", AttrConversationID, got)
	}
	if _, ok := spanAttr(spans[0], string(AttrUserID)); ok {
		t.Error("anonymous request should not carry a user id")
	}
}

func TestMiddleware_SkipsHealthAndScrapes(t *testing.T) {
	m, reader, exp := testSetup(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := serveMux(m, "GET "+path, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ok"))
		}, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
		if rec.Header().Get("X-Correlation-ID") != "" {
			t.Errorf("%s: unexpected X-Correlation-ID", path)
		}
	}

	if n := len(exp.GetSpans()); n != 0 {
		t.Errorf("spans = %d, want 0", n)
	}
	if points := durationPoints(t, reader); len(points) != 0 {
		t.Errorf("duration points = %d, want 0", len(points))
	}
}

func TestMiddleware_UnroutedRequestUsesPath(t *testing.T) {
	m, reader, exp := testSetup(t)

	rec := serveMux(m, "GET /v1/communities", func(http.ResponseWriter, *http.Request) {},
		httptest.NewRequest("GET", "/v1/nowhere", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP GET /v1/nowhere" {
		t.Fatalf("spans = %v", spans)
	}
	points := durationPoints(t, reader)
	if len(points) != 1 {
		t.Fatalf("duration points = %d, want 1", len(points))
	}
	if v, _ := points[0].Attributes.Value("path"); v.AsString() != "/v1/nowhere" {
		t.Errorf("path label = %q", v.AsString())
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	req := httptest.NewRequest("GET", "/v1/users/u1/communities", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")

	var cid string
	rec := serveMux(m, "GET /v1/users/{id}/communities", func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
	}, req)

	if cid != traceID {
		t.Errorf("correlation ID = %q; want %q", cid, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q; want %q", got, traceID)
	}
}

func TestMiddleware_StreamingHandlersCanFlush(t *testing.T) {
	m, _, _ := testSetup(t)

	var flushErr error
	rec := serveMux(m, "POST /v1/coach/chat", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("chunk"))
		flushErr = http.NewResponseController(w).Flush()
	}, httptest.NewRequest("POST", "/v1/coach/chat", nil))

	if flushErr != nil {
		t.Fatalf("Flush: %v", flushErr)
	}
	if !rec.Flushed {
		t.Error("recorder was not flushed through the middleware")
	}
}

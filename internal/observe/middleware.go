package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// Request headers read by [Middleware]. ConversationHeader is a response
// header set by the coach chat handler.
const (
	UserHeader         = "X-User-ID"
	ConversationHeader = "X-Conversation-ID"
)

// untraced lists paths polled by scrapers and orchestrators. They are served
// without spans, metrics or access logs.
var untraced = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

// Unwrap lets [http.ResponseController] reach the underlying writer so the
// coach chat stream can flush.
func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware traces, measures and logs API requests.
//
// Each request gets a server span continuing any W3C traceparent, an
// X-Correlation-ID response header and a duration sample labelled by the
// ServeMux route pattern, so /v1/communities/{id} is one series rather than
// one per community. The X-User-ID request header and the X-Conversation-ID
// response header are recorded on the span. Health checks and /metrics
// bypass all of this.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if untraced[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx = WithUser(ctx, r.Header.Get(UserHeader))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			w.Header().Set("X-Correlation-ID", cid)
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			// ServeMux fills in Pattern on the request it routed.
			route := r.URL.Path
			if r.Pattern != "" {
				route = r.Pattern
				span.SetName("HTTP " + r.Pattern)
				span.SetAttributes(semconv.HTTPRoute(r.Pattern))
			}
			span.SetAttributes(
				semconv.HTTPResponseStatusCode(rec.status),
				semconv.HTTPResponseBodySize(int(rec.bytes)),
			)
			if conv := rec.Header().Get(ConversationHeader); conv != "" {
				span.SetAttributes(AttrConversationID.String(conv))
			}

			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					Attr("method", r.Method),
					Attr("path", route),
					Attr("status", strconv.Itoa(rec.status)),
				),
			)

			level := slog.LevelInfo
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case rec.status >= 400:
				level = slog.LevelWarn
			}
			Logger(ctx).LogAttrs(ctx, level, "request completed",
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", rec.status),
				slog.Int64("bytes", rec.bytes),
				slog.Duration("duration", elapsed),
			)
		})
	}
}

package observe

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Niranjan-reddy99/hobbystreak"

// Span attribute keys shared by the HTTP middleware, the coach and the voice
// session.
const (
	AttrUserID         = attribute.Key("hobbystreak.user_id")
	AttrConversationID = attribute.Key("hobbystreak.conversation_id")
	AttrSessionID      = attribute.Key("hobbystreak.session_id")
)

type userKey struct{}

// WithUser returns a copy of ctx carrying the caller's user id. The HTTP
// middleware sets it from the X-User-ID header.
func WithUser(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey{}, userID)
}

// UserID returns the user id stored by [WithUser], or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

// StartSpan starts a span on the global tracer provider. The user id in ctx,
// if any, is added as [AttrUserID].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := UserID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(AttrUserID.String(id)))
	}
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// EndSpan ends span, marking it failed when err is non-nil. Cancellation is
// recorded as an event rather than an error: callers hang up on streams and
// voice setups all the time.
func EndSpan(span trace.Span, err error) {
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		span.AddEvent("cancelled")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace id of the span in ctx, or "". It is sent
// to clients as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with the request's trace_id and user
// attached when ctx carries them.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if cid := CorrelationID(ctx); cid != "" {
		l = l.With(slog.String("trace_id", cid))
	}
	if id := UserID(ctx); id != "" {
		l = l.With(slog.String("user", id))
	}
	return l
}

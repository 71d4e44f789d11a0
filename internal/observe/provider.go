package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures process-wide telemetry.
type ProviderConfig struct {
	// ServiceName is reported as service.name. Default: "hobbystreak".
	ServiceName    string
	ServiceVersion string

	// MetricsEnabled attaches a Prometheus reader and exposes it through
	// [Telemetry.MetricsHandler]. When false, instruments still exist but
	// nothing is collected.
	MetricsEnabled bool

	// TraceExporter receives finished spans. Nil records spans without
	// exporting them, which still yields trace ids for X-Correlation-ID.
	TraceExporter sdktrace.SpanExporter
}

// Telemetry holds the SDK providers installed by [InitProvider].
type Telemetry struct {
	// Metrics is bound to this provider's meters. Pass it to the app rather
	// than relying on [DefaultMetrics].
	Metrics *Metrics

	registry *prometheus.Registry
	shutdown []func(context.Context) error
}

// InitProvider builds the meter and tracer providers and installs them as
// the global OTel providers.
//
// Metrics go to a private Prometheus registry, together with the Go runtime
// and process collectors, rather than the client_golang default registry.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "hobbystreak"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	t := &Telemetry{}

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.MetricsEnabled {
		t.registry = prometheus.NewRegistry()
		t.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		exp, err := promexporter.New(promexporter.WithRegisterer(t.registry))
		if err != nil {
			return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(exp))
	}
	mp := sdkmetric.NewMeterProvider(mpOpts...)
	otel.SetMeterProvider(mp)
	t.shutdown = append(t.shutdown, mp.Shutdown)

	if t.Metrics, err = NewMetrics(mp); err != nil {
		return nil, errors.Join(err, t.Shutdown(ctx))
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	t.shutdown = append(t.shutdown, tp.Shutdown)

	return t, nil
}

// MetricsHandler serves the Prometheus registry, or returns nil when metrics
// are disabled.
func (t *Telemetry) MetricsHandler() http.Handler {
	if t.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the providers. Spans still batched are exported
// before it returns unless ctx expires first.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

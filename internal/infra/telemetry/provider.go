// Package telemetry owns the process meter provider and the attribute
// vocabulary shared by broker metrics.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"

	"github.com/coachpo/asxtrader/internal/infra/config"
)

const (
	serviceVersion        = "1.0.0"
	defaultEndpoint       = "localhost:4318"
	defaultExportInterval = 30 * time.Second
	defaultShutdown       = 5 * time.Second
	fallbackEnvironment   = "development"
)

var currentEnvironment atomic.Value

// Config is the resolved exporter setup.
type Config struct {
	Enabled        bool
	Endpoint       string
	Insecure       bool
	ExportInterval time.Duration
	Shutdown       time.Duration
	ServiceName    string
	Namespace      string
	Environment    string
}

// FromConfig resolves exporter settings from the application config. The
// standard OTEL_* variables win over file values, and OTEL_SDK_DISABLED=true
// turns export off.
func FromConfig(env config.Environment, tc config.TelemetryConfig) Config {
	cfg := Config{
		Enabled:        tc.EnableMetrics,
		Endpoint:       firstNonEmpty(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), tc.OTLPEndpoint, defaultEndpoint),
		Insecure:       tc.OTLPInsecure,
		ExportInterval: defaultExportInterval,
		Shutdown:       defaultShutdown,
		ServiceName:    firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), tc.ServiceName, "asxtrader"),
		Namespace:      strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAMESPACE")),
		Environment:    firstNonEmpty(string(env), fallbackEnvironment),
	}
	if strings.EqualFold(os.Getenv("OTEL_SDK_DISABLED"), "true") {
		cfg.Enabled = false
	}
	// An explicit http:// scheme means plaintext regardless of the flag.
	if strings.HasPrefix(cfg.Endpoint, "http://") {
		cfg.Insecure = true
	}
	return cfg
}

// Provider owns the SDK meter provider. The zero value and nil are usable and
// defer to the global (no-op) provider.
type Provider struct {
	mp       *sdkmetric.MeterProvider
	shutdown time.Duration
}

// NewProvider installs an OTLP/HTTP meter provider as the global one when
// enabled.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	SetEnvironment(cfg.Environment)
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(resourceAttributes(cfg)...),
		resource.WithProcessRuntimeName(),
		resource.WithProcessRuntimeVersion(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	exporterOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(hostPort(cfg.Endpoint))}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = defaultExportInterval
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithView(brokerLatencyViews()...),
	)
	otel.SetMeterProvider(mp)
	return &Provider{mp: mp, shutdown: cfg.Shutdown}, nil
}

// Enabled reports whether metrics are exported.
func (p *Provider) Enabled() bool {
	return p != nil && p.mp != nil
}

// Shutdown flushes pending metrics, bounded by the configured shutdown budget.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	if p.shutdown > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.shutdown)
		defer cancel()
	}
	if err := p.mp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}
	return nil
}

// Meter returns a named meter from this provider, or from the global one.
func (p *Provider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if !p.Enabled() {
		return otel.Meter(name, opts...)
	}
	return p.mp.Meter(name, opts...)
}

func resourceAttributes(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(serviceVersion),
		AttrEnvironment.String(strings.ToLower(cfg.Environment)),
	}
	if cfg.Namespace != "" {
		attrs = append(attrs, semconv.ServiceNamespaceKey.String(cfg.Namespace))
	}
	return attrs
}

// brokerLatencyViews pins millisecond buckets for the two latency histograms.
func brokerLatencyViews() []sdkmetric.View {
	view := func(name string, bounds ...float64) sdkmetric.View {
		return sdkmetric.NewView(
			sdkmetric.Instrument{Name: name, Kind: sdkmetric.InstrumentKindHistogram},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: bounds}},
		)
	}
	return []sdkmetric.View{
		view("asxtrader_broker_handshake_duration", 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000),
		view("asxtrader_broker_request_duration", 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	}
}

// hostPort turns a collector URL into the host:port the HTTP exporter wants.
func hostPort(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	for _, scheme := range []string{"http://", "https://"} {
		endpoint = strings.TrimPrefix(endpoint, scheme)
	}
	return strings.TrimRight(endpoint, "/")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// SetEnvironment records the environment label used by metric attributes.
func SetEnvironment(env string) {
	currentEnvironment.Store(strings.ToLower(strings.TrimSpace(env)))
}

// Environment returns the recorded environment label.
func Environment() string {
	if env, _ := currentEnvironment.Load().(string); env != "" {
		return env
	}
	return fallbackEnvironment
}

// Package observability wires OpenTelemetry tracing and metrics around the
// update resolver: one span per state-machine step, counters for trust-chain
// recoveries and keyring installs, and byte counters for artifact downloads.
// Everything is off by default; a resolver without a Manager still runs, it
// just emits nothing.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
)

// Config selects which exporters a resolver process ships telemetry to.
type Config struct {
	ServiceName    string           `yaml:"service_name"`
	ServiceVersion string           `yaml:"service_version"`
	Environment    string           `yaml:"environment"`
	Enabled        bool             `yaml:"enabled"`
	Tracing        TracingConfig    `yaml:"tracing"`
	Metrics        MetricsConfig    `yaml:"metrics"`
	OTLP           OTLPConfig       `yaml:"otlp"`
	Prometheus     PrometheusConfig `yaml:"prometheus"`
}

// TracingConfig controls span sampling and the development stdout exporter.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Stdout       bool    `yaml:"stdout"`
}

// MetricsConfig enables the metric pipeline.
type MetricsConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
}

// OTLPConfig names the collector endpoint spans and metrics are pushed to
// over gRPC.
type OTLPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// PrometheusConfig enables the pull-based metric reader.
type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns a disabled-by-default configuration suitable for a
// device-side resolver, where telemetry is opt-in.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "otaresolve",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		Enabled:        false,
		Tracing: TracingConfig{
			Enabled:      true,
			SamplingRate: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			IntervalSeconds: 15,
		},
		OTLP: OTLPConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Insecure: true,
		},
		Prometheus: PrometheusConfig{
			Enabled: false,
		},
	}
}

// Manager owns the tracer and meter providers for one resolver process and
// shuts them down in reverse construction order.
type Manager struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	telemetry      *Telemetry
	shutdownFuncs  []func(context.Context) error
}

// NewManager builds the providers and exporters config asks for. A disabled
// config yields a Manager whose Telemetry is a silent no-op.
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}

	m := &Manager{config: config}
	if !config.Enabled {
		m.telemetry = NewTelemetry(nil, nil)
		return m, nil
	}

	res, err := buildResource(config)
	if err != nil {
		return nil, fmt.Errorf("building telemetry resource: %w", err)
	}

	if config.Tracing.Enabled {
		if err := m.initTracing(res); err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
	}
	if config.Metrics.Enabled {
		if err := m.initMetrics(res); err != nil {
			return nil, fmt.Errorf("initializing metrics: %w", err)
		}
	}

	// A nil *sdktrace/*sdkmetric provider boxed in an interface is not == nil,
	// so only built providers are handed on; NewTelemetry fills in no-ops.
	var tp trace.TracerProvider
	if m.tracerProvider != nil {
		tp = m.tracerProvider
	}
	var mp metric.MeterProvider
	if m.meterProvider != nil {
		mp = m.meterProvider
	}
	m.telemetry = NewTelemetry(tp, mp)
	return m, nil
}

func buildResource(config *Config) (*sdkresource.Resource, error) {
	return sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(
			"",
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			attribute.String("environment", config.Environment),
		),
	)
}

func (m *Manager) initTracing(res *sdkresource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(m.config.Tracing.SamplingRate),
		)),
		sdktrace.WithResource(res),
	}

	if m.config.OTLP.Enabled {
		exporter, err := newOTLPTraceExporter(m.config.OTLP)
		if err != nil {
			return err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	if m.config.Tracing.Stdout {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	m.tracerProvider = tp
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	m.shutdownFuncs = append(m.shutdownFuncs, tp.Shutdown)
	return nil
}

func (m *Manager) initMetrics(res *sdkresource.Resource) error {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if m.config.Prometheus.Enabled {
		reader, err := prometheus.New()
		if err != nil {
			return err
		}
		opts = append(opts, sdkmetric.WithReader(reader))
	}
	if m.config.OTLP.Enabled {
		exporter, err := newOTLPMetricExporter(m.config.OTLP)
		if err != nil {
			return err
		}
		interval := time.Duration(m.config.Metrics.IntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 15 * time.Second
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)),
		))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	m.meterProvider = mp
	otel.SetMeterProvider(mp)
	m.shutdownFuncs = append(m.shutdownFuncs, mp.Shutdown)
	return nil
}

func newOTLPTraceExporter(config OTLPConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(config.Endpoint),
		otlptracegrpc.WithTimeout(30 * time.Second),
	}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	return otlptracegrpc.New(context.Background(), opts...)
}

func newOTLPMetricExporter(config OTLPConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(config.Endpoint),
		otlpmetricgrpc.WithTimeout(30 * time.Second),
	}
	if config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	return otlpmetricgrpc.New(context.Background(), opts...)
}

// Telemetry returns the instrument bundle components record through. Never
// nil, even when the Manager is disabled.
func (m *Manager) Telemetry() *Telemetry {
	return m.telemetry
}

// Shutdown flushes and stops every provider, in reverse order.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(m.shutdownFuncs) - 1; i >= 0; i-- {
		if err := m.shutdownFuncs[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown: %v", errs)
	}
	return nil
}

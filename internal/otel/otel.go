// Package otel exports pcap-patrol query telemetry over OTLP/HTTP.
//
// Spans and metrics go to the endpoint from the config file or
// OTEL_EXPORTER_OTLP_ENDPOINT. Without an endpoint Init returns a Telemetry
// whose tracer and instruments record nothing, which is the normal mode for
// one-shot CLI runs.
package otel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "pcap-patrol"

// DefaultExportInterval is the metric push period when none is configured.
const DefaultExportInterval = 5 * time.Second

// Version is set by the caller (from the linker-injected cmd.Version).
var Version = "dev"

// OTELConfig holds the configuration needed by Init.
type OTELConfig struct {
	Endpoint string // OTLP base URL, e.g. "http://localhost:4318"
	Headers  string // Comma-separated key=value pairs

	ExportInterval time.Duration

	// Recorded on the resource so every span and metric names the tshark
	// binary and query profile it came from.
	TsharkPath string
	Profile    string
}

// Telemetry holds the providers and metric instruments of one run.
type Telemetry struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider

	Metrics *Metrics
}

// Tracer returns a tracer bound to the exporting provider. Without an
// endpoint, and on a nil Telemetry, it falls back to the global provider.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	if t == nil || t.tp == nil {
		return otel.Tracer(name)
	}
	return t.tp.Tracer(name)
}

// collector is a parsed OTLP base URL.
type collector struct {
	host     string // host:port
	basePath string
	insecure bool
	headers  map[string]string
}

// parseCollector splits endpoint into what the HTTP exporters want:
// host:port for WithEndpoint and a base path the signal suffixes are
// appended to.
func parseCollector(endpoint, headers string) (collector, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return collector{}, fmt.Errorf("otel: invalid endpoint URL %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return collector{}, fmt.Errorf("otel: endpoint %q has no host", endpoint)
	}
	return collector{
		host:     u.Host,
		basePath: strings.TrimRight(u.Path, "/"),
		insecure: u.Scheme == "http",
		headers:  parseHeaders(headers),
	}, nil
}

func (c collector) traceOptions() []otlptracehttp.Option {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(c.host),
		otlptracehttp.WithURLPath(c.basePath + "/v1/traces"),
	}
	if c.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(c.headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(c.headers))
	}
	return opts
}

func (c collector) metricOptions() []otlpmetrichttp.Option {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(c.host),
		otlpmetrichttp.WithURLPath(c.basePath + "/v1/metrics"),
	}
	if c.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(c.headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(c.headers))
	}
	return opts
}

// parseHeaders parses the OTEL_EXPORTER_OTLP_HEADERS format
// "key=value,key2=value2". Pairs without a key are skipped.
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, val, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(val)
	}
	return headers
}

// resourceAttributes lists the attributes identifying this run.
func resourceAttributes(cfg OTELConfig) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(Version),
	}
	if cfg.TsharkPath != "" {
		attrs = append(attrs, attribute.String("pcap.tshark_path", cfg.TsharkPath))
	}
	if cfg.Profile != "" {
		attrs = append(attrs, attribute.String("pcap.profile", cfg.Profile))
	}
	return attrs
}

// Init sets up exporting providers when cfg.Endpoint is set and creates
// the metric instruments.
func Init(ctx context.Context, cfg OTELConfig) (*Telemetry, error) {
	t := &Telemetry{}
	var mp metric.MeterProvider = otel.GetMeterProvider()

	if cfg.Endpoint != "" {
		c, err := parseCollector(cfg.Endpoint, cfg.Headers)
		if err != nil {
			return nil, err
		}
		res, err := resource.New(ctx,
			resource.WithAttributes(resourceAttributes(cfg)...),
			resource.WithHost(),
			resource.WithProcessPID(),
		)
		if err != nil {
			return nil, fmt.Errorf("otel resource: %w", err)
		}

		traceExp, err := otlptracehttp.New(ctx, c.traceOptions()...)
		if err != nil {
			return nil, fmt.Errorf("otel trace exporter: %w", err)
		}
		t.tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExp),
			sdktrace.WithResource(res),
		)

		metricExp, err := otlpmetrichttp.New(ctx, c.metricOptions()...)
		if err != nil {
			return nil, fmt.Errorf("otel metric exporter: %w", err)
		}
		interval := cfg.ExportInterval
		if interval <= 0 {
			interval = DefaultExportInterval
		}
		t.mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(interval))),
			sdkmetric.WithResource(res),
		)
		mp = t.mp

		// explain opens its spans on the global provider.
		otel.SetTracerProvider(t.tp)
		otel.SetMeterProvider(t.mp)
	}

	metrics, err := NewMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}
	t.Metrics = metrics
	return t, nil
}

// Shutdown flushes pending spans and metrics.
func (t *Telemetry) Shutdown(ctx context.Context) {
	if t == nil {
		return
	}
	if t.tp != nil {
		_ = t.tp.Shutdown(ctx)
	}
	if t.mp != nil {
		_ = t.mp.Shutdown(ctx)
	}
}

package metrics

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	config "github.com/jiawu-lu/lubatch/pkg/batch/core/config"
	metrics "github.com/jiawu-lu/lubatch/pkg/batch/core/metrics"
	exception "github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// Telemetry bundles the recorder and tracer selected by configuration with
// the providers and exporters behind them.
type Telemetry struct {
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
	// PushJob is the Pushgateway job label. It defaults to the configured job name.
	PushJob string

	cfg        config.MetricsConfig
	prometheus *PrometheusRecorder
	async      *AsyncMetricRecorder
	shutdowns  []func(context.Context) error
}

// Setup builds the telemetry described by cfg. Disabled metrics or tracing fall back to no-op implementations.
// The returned Telemetry must be shut down to flush exporters.
func Setup(ctx context.Context, cfg *config.Config) (*Telemetry, error) {
	t := &Telemetry{
		Recorder: metrics.NewNoOpMetricRecorder(),
		Tracer:   metrics.NewNoOpTracer(),
		PushJob:  cfg.Lubatch.Batch.JobName,
		cfg:      cfg.Lubatch.Metrics,
	}
	serviceName := cfg.Lubatch.Tracing.ServiceName
	if serviceName == "" {
		serviceName = "lubatch"
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	if m := cfg.Lubatch.Metrics; m.Enabled {
		switch m.Backend {
		case "prometheus", "":
			t.prometheus = NewPrometheusRecorder(WithRuntimeCollectors())
			t.Recorder = t.prometheus
		case "otel":
			exp, err := newMetricExporter(ctx, m)
			if err != nil {
				return nil, err
			}
			mp := sdkmetric.NewMeterProvider(
				sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
				sdkmetric.WithResource(res),
			)
			otel.SetMeterProvider(mp)
			t.shutdowns = append(t.shutdowns, mp.Shutdown)
			rec, err := NewOTelRecorder(mp)
			if err != nil {
				_ = mp.Shutdown(ctx)
				return nil, err
			}
			t.Recorder = rec
		default:
			return nil, exception.NewConfigurationError(fmt.Sprintf("unsupported metrics backend %q", m.Backend), nil)
		}
		if m.Async {
			t.async = NewAsyncMetricRecorder(m.AsyncBufferSize, t.Recorder)
			t.Recorder = t.async
		}
		logger.Infof("Metrics: '%s' backend enabled (async: %t).", m.Backend, m.Async)
	}

	if tr := cfg.Lubatch.Tracing; tr.Enabled {
		exp, err := newTraceExporter(ctx, tr)
		if err != nil {
			_ = t.Shutdown(ctx)
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		t.shutdowns = append(t.shutdowns, tp.Shutdown)
		t.Tracer = NewOpenTelemetryTracer(tp)
	}
	return t, nil
}

func newMetricExporter(ctx context.Context, m config.MetricsConfig) (sdkmetric.Exporter, error) {
	var (
		exp sdkmetric.Exporter
		err error
	)
	switch m.Protocol {
	case "http":
		var opts []otlpmetrichttp.Option
		if m.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(m.Endpoint))
		}
		if m.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exp, err = otlpmetrichttp.New(ctx, opts...)
	case "grpc", "":
		var opts []otlpmetricgrpc.Option
		if m.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(m.Endpoint))
		}
		if m.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exp, err = otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, exception.NewConfigurationError(fmt.Sprintf("unsupported metrics protocol %q", m.Protocol), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp metric exporter: %w", err)
	}
	return exp, nil
}

func newTraceExporter(ctx context.Context, tr config.TracingConfig) (sdktrace.SpanExporter, error) {
	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch tr.Protocol {
	case "http":
		var opts []otlptracehttp.Option
		if tr.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(tr.Endpoint))
		}
		if tr.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	case "grpc", "":
		var opts []otlptracegrpc.Option
		if tr.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(tr.Endpoint))
		}
		if tr.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	default:
		return nil, exception.NewConfigurationError(fmt.Sprintf("unsupported tracing protocol %q", tr.Protocol), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp trace exporter: %w", err)
	}
	return exp, nil
}

// Prometheus returns the Prometheus recorder when that backend is active.
func (t *Telemetry) Prometheus() (*PrometheusRecorder, bool) {
	return t.prometheus, t.prometheus != nil
}

// Shutdown drains the async queue, exports the Prometheus registry to the
// configured textfile and Pushgateway, and shuts the OpenTelemetry providers down.
// Every step runs; the errors are aggregated.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	if t.async != nil {
		t.async.Close()
	}
	if t.prometheus != nil {
		if t.cfg.TextfilePath != "" {
			if err := t.prometheus.WriteTextfile(t.cfg.TextfilePath); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if t.cfg.PushgatewayURL != "" {
			if err := t.prometheus.Push(ctx, t.cfg.PushgatewayURL, t.PushJob); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	for i := len(t.shutdowns) - 1; i >= 0; i-- {
		if err := t.shutdowns[i](ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	t.shutdowns = nil
	return result.ErrorOrNil()
}

package config

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/mpapenbr/racestart-manager-go/log"
	"github.com/mpapenbr/racestart-manager-go/version"
)

type Telemetry struct {
	ctx           context.Context
	metricProvier *metric.MeterProvider
	traceProvider *trace.TracerProvider
}

func (t Telemetry) Shutdown() {
	log.Debug("Shutting down telemetry")
	err := errors.Join(
		t.metricProvier.Shutdown(t.ctx),
		t.traceProvider.Shutdown(t.ctx))
	if err != nil {
		log.Warn("Error shutting down telemetry", log.ErrorField(err))
	}
}

// SetupTelemetry installs global meter and tracer providers exporting to
// TelemetryEndpoint via OTLP gRPC.
func SetupTelemetry(ctx context.Context) (*Telemetry, error) {
	res, err := newResource()
	if err != nil {
		return nil, err
	}
	ret := Telemetry{ctx: ctx}
	if ret.metricProvier, err = newMeterProvider(ctx, res); err != nil {
		return nil, err
	}
	otel.SetMeterProvider(ret.metricProvier)

	if ret.traceProvider, err = newTraceProvider(ctx, res); err != nil {
		return nil, err
	}
	otel.SetTracerProvider(ret.traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	return &ret, nil
}

func newResource() (*resource.Resource, error) {
	return resource.Merge(resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", "racestart-manager"),
			attribute.String("service.version", version.Version),
		))
}

func newMeterProvider(ctx context.Context, res *resource.Resource) (
	*metric.MeterProvider, error,
) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithEndpoint(TelemetryEndpoint))
	if err != nil {
		return nil, err
	}
	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(exporter,
			metric.WithInterval(15*time.Second))),
	), nil
}

func newTraceProvider(ctx context.Context, res *resource.Resource) (
	*trace.TracerProvider, error,
) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(TelemetryEndpoint))
	if err != nil {
		return nil, err
	}
	return trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithBatcher(exporter),
	), nil
}

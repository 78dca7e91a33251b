// Package observability wires OpenTelemetry tracing for tabula's bulk
// operations. Until InitTracing runs, spans go to the global no-op provider.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/tabula/pkg/errors"
)

const instrumentationName = "github.com/ajitpratap0/tabula"

// TracingConfig contains tracing configuration
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	// SamplingRate is the fraction of traces kept, clamped to [0, 1].
	SamplingRate float64
	// Writer receives stdout-exporter output. Nil means os.Stdout.
	Writer      io.Writer
	PrettyPrint bool
	// Exporter replaces the stdout exporter when set. Spans are exported
	// synchronously.
	Exporter sdktrace.SpanExporter
}

// DefaultTracingConfig samples every trace to stdout.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName:    "tabula",
		ServiceVersion: "dev",
		SamplingRate:   1.0,
		PrettyPrint:    true,
	}
}

// InitTracing installs a global tracer provider. The returned function
// flushes pending spans and shuts the provider down.
func InitTracing(config TracingConfig) (func(context.Context) error, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create trace resource")
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(config.SamplingRate)),
	}
	if config.Exporter != nil {
		opts = append(opts, sdktrace.WithSyncer(config.Exporter))
	} else {
		w := config.Writer
		if w == nil {
			w = os.Stdout
		}
		exportOpts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
		if config.PrettyPrint {
			exportOpts = append(exportOpts, stdouttrace.WithPrettyPrint())
		}
		exporter, err := stdouttrace.New(exportOpts...)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create stdout exporter")
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		return sdktrace.NeverSample()
	case rate >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Tracer returns the tabula tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Span wraps a trace.Span and batches its attributes until End.
type Span struct {
	span       trace.Span
	attributes []attribute.KeyValue
}

// StartSpan starts a span named operation.
func StartSpan(ctx context.Context, operation string) (context.Context, *Span) {
	ctx, span := Tracer().Start(ctx, operation)
	return ctx, &Span{span: span}
}

// SetAttribute adds an attribute to the span
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue
	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}
	s.attributes = append(s.attributes, attr)
}

// Finish records err, if any, as the span status and ends the span. It
// returns err so that callers can write `return span.Finish(err)`.
func (s *Span) Finish(err error) error {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.End()
	return err
}

// End ends the span.
func (s *Span) End() {
	if len(s.attributes) > 0 {
		s.span.SetAttributes(s.attributes...)
	}
	s.span.End()
}

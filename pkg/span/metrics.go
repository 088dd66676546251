// MetricObserver derives invocation duration, count, and error metrics from entry spans.
// Uses the OTel Metrics API to record measurements with route, method and status attributes.
package span

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
)

// MetricObserver records derived metrics for each observed entry span.
type MetricObserver struct {
	duration    metric.Float64Histogram
	invocations metric.Int64Counter
	errors      metric.Int64Counter
}

// NewMetricObserver creates a MetricObserver backed by the given MeterProvider.
func NewMetricObserver(mp metric.MeterProvider) (*MetricObserver, error) {
	meter := mp.Meter(InstrumentationName)

	duration, err := meter.Float64Histogram("gateway.invocation.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration of gateway-triggered invocations in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	invocations, err := meter.Int64Counter("gateway.invocation.count",
		metric.WithDescription("Number of traced gateway-triggered invocations"),
	)
	if err != nil {
		return nil, err
	}

	errors, err := meter.Int64Counter("gateway.error.count",
		metric.WithDescription("Number of gateway-triggered invocations marked as errored"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricObserver{
		duration:    duration,
		invocations: invocations,
		errors:      errors,
	}, nil
}

// Observe records metrics derived from the stopped span.
func (m *MetricObserver) Observe(info Info) {
	kvs := []attribute.KeyValue{
		semconv.HTTPRoute(info.Operation),
	}
	if info.Method != "" {
		kvs = append(kvs, semconv.HTTPRequestMethodKey.String(info.Method))
	}
	if info.StatusCode != 0 {
		kvs = append(kvs, semconv.HTTPResponseStatusCode(info.StatusCode))
	}
	attrs := metric.WithAttributes(kvs...)

	m.invocations.Add(context.Background(), 1, attrs)
	m.duration.Record(context.Background(), float64(info.Duration)/float64(time.Millisecond), attrs)
	if info.Errored {
		m.errors.Add(context.Background(), 1, attrs)
	}
}

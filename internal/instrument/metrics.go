package instrument

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics are the instruments every runner adapter records to.
type Metrics struct {
	tests         metric.Int64Counter
	lateTimeouts  metric.Int64Counter
	flushDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on m. A nil m records nothing.
func NewMetrics(m metric.Meter) *Metrics {
	if m == nil {
		m = noop.NewMeterProvider().Meter("testtrace/instrument")
	}
	tests, err := m.Int64Counter("testtrace.tests",
		metric.WithDescription("Test spans finished, by test.status"),
	)
	if err != nil {
		otel.Handle(err)
	}
	late, err := m.Int64Counter("testtrace.timeouts.late",
		metric.WithDescription("Timeout failures that arrived after the test span was gone"),
	)
	if err != nil {
		otel.Handle(err)
	}
	flush, err := m.Float64Histogram("testtrace.flush.duration",
		metric.WithDescription("Time spent waiting for buffered spans to be exported"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}
	return &Metrics{tests: tests, lateTimeouts: late, flushDuration: flush}
}

// TestFinished counts a finished test span by its test.status.
func (m *Metrics) TestFinished(ctx context.Context, status string) {
	if status == "" {
		status = "unknown"
	}
	m.tests.Add(ctx, 1, metric.WithAttributes(attribute.String(TagTestStatus, status)))
}

// LateTimeout counts a timeout that found no running test to tag.
func (m *Metrics) LateTimeout(ctx context.Context) {
	m.lateTimeouts.Add(ctx, 1)
}

func (m *Metrics) flushed(ctx context.Context, d time.Duration) {
	m.flushDuration.Record(ctx, d.Seconds())
}

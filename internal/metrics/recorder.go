// Package metrics records subscribe attempts with OpenTelemetry.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/tinywideclouds/go-push-subscriber/internal/metrics"

// Recorder holds the subscribe instruments.
type Recorder struct {
	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

// NewRecorder builds instruments on the global meter provider.
func NewRecorder() (*Recorder, error) {
	return NewRecorderWithMeter(otel.Meter(meterName))
}

// NewRecorderWithMeter builds instruments on a specific meter.
func NewRecorderWithMeter(meter metric.Meter) (*Recorder, error) {
	attempts, err := meter.Int64Counter(
		"push.subscribe.attempts",
		metric.WithDescription("Subscribe attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"push.subscribe.duration",
		metric.WithDescription("Duration of subscribe attempts in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Recorder{attempts: attempts, duration: duration}, nil
}

// RecordAttempt satisfies coordinator.Recorder.
func (r *Recorder) RecordAttempt(ctx context.Context, outcome string, manual bool, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("manual", manual),
	)
	r.attempts.Add(ctx, 1, attrs)
	r.duration.Record(ctx, elapsed.Seconds(), attrs)
}

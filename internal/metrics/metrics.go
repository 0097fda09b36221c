// Package metrics records job outcomes with OpenTelemetry. Without a
// configured MeterProvider the instruments are noop.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/CZERTAINLY/Runner/internal/model"
)

const meterName = "github.com/CZERTAINLY/Runner"

// Recorder owns the job instruments:
//   - runner.job.executions (Int64Counter) terminal jobs by client and status
//   - runner.job.duration (Float64Histogram) run time in seconds by client and status
type Recorder struct {
	executions metric.Int64Counter
	duration   metric.Float64Histogram
}

// New uses the global MeterProvider.
func New() *Recorder {
	return NewWithMeter(otel.Meter(meterName))
}

func NewWithMeter(meter metric.Meter) *Recorder {
	// on error the API returns noop instruments
	executions, _ := meter.Int64Counter(
		"runner.job.executions",
		metric.WithDescription("Total number of finished jobs"),
		metric.WithUnit("{job}"),
	)
	duration, _ := meter.Float64Histogram(
		"runner.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	return &Recorder{
		executions: executions,
		duration:   duration,
	}
}

// Record counts a terminal job. Jobs which never started have no duration.
func (r *Recorder) Record(ctx context.Context, job model.Job) {
	if r == nil || !job.Status.Terminal() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("client", job.Client),
		attribute.String("status", string(job.Status)),
	)
	r.executions.Add(ctx, 1, attrs)
	if job.StartedAt != nil {
		r.duration.Record(ctx, job.Duration().Seconds(), attrs)
	}
}

package background

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-exporter/internal/serviceerr"
)

// LogSink logs every finished export.
type LogSink struct{}

func (LogSink) Publish(ctx context.Context, ev Event) {
	if ev.Phase != PhaseFinished {
		slogctx.Debug(ctx, "Background export started", "identifier", ev.Identifier)
		return
	}

	duration := ev.FinishedAt.Sub(ev.StartedAt)
	if ev.Err != nil {
		slogctx.Error(ctx, "Background export failed",
			"identifier", ev.Identifier,
			"code", serviceerr.CodeOf(ev.Err),
			"duration", duration,
			"error", ev.Err,
		)

		return
	}

	slogctx.Info(ctx, "Background export finished",
		"identifier", ev.Identifier,
		"archive", ev.Result.ArchivePath,
		"size", ev.Result.Size,
		"delivered", ev.Result.Delivered,
		"duration", duration,
	)
}

// MetricsSink counts finished exports by outcome.
type MetricsSink struct {
	runs     metric.Int64Counter
	duration metric.Int64Histogram
}

func NewMetricsSink(meter metric.Meter) (*MetricsSink, error) {
	runs, err := meter.Int64Counter(
		"export.run_count",
		metric.WithDescription("Background export runs"),
		metric.WithUnit("run"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating run_count meter: %w", err)
	}

	duration, err := meter.Int64Histogram(
		"export.duration",
		metric.WithDescription("Background export end to end duration"),
		metric.WithUnit("milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration meter: %w", err)
	}

	return &MetricsSink{runs: runs, duration: duration}, nil
}

func (s *MetricsSink) Publish(ctx context.Context, ev Event) {
	if ev.Phase != PhaseFinished {
		return
	}

	outcome := "success"
	if ev.Err != nil {
		outcome = string(serviceerr.CodeOf(ev.Err))
	}

	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("delivered", ev.Result.Delivered),
	)
	s.runs.Add(ctx, 1, attrs)
	s.duration.Record(ctx, ev.FinishedAt.Sub(ev.StartedAt).Milliseconds(), attrs)
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rcliao/memtier/internal/model"
	"github.com/rcliao/memtier/internal/queue"
	"github.com/rcliao/memtier/internal/tier"
)

const instrumentationName = "github.com/rcliao/memtier/internal/orchestrator"

type telemetry struct {
	tracer   trace.Tracer
	writes   metric.Int64Counter
	failures metric.Int64Counter
	rejects  metric.Int64Counter
}

// newTelemetry falls back to the global providers, which are no-ops unless
// the process installs an SDK.
func newTelemetry(mp metric.MeterProvider, tp trace.TracerProvider) (*telemetry, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	meter := mp.Meter(instrumentationName)

	writes, err := meter.Int64Counter("memtier.tier.writes",
		metric.WithDescription("Successful tier writes"))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: writes counter: %w", err)
	}
	failures, err := meter.Int64Counter("memtier.tier.failures",
		metric.WithDescription("Failed tier writes"))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: failures counter: %w", err)
	}
	rejects, err := meter.Int64Counter("memtier.queue.rejected",
		metric.WithDescription("Records refused by a full push queue"))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: rejected counter: %w", err)
	}

	return &telemetry{
		tracer:   tp.Tracer(instrumentationName),
		writes:   writes,
		failures: failures,
		rejects:  rejects,
	}, nil
}

func (t *telemetry) startWrite(ctx context.Context, tr tier.Tier, r *model.Record) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "memtier.tier.write",
		trace.WithAttributes(
			attribute.String("memtier.tier", tr.String()),
			attribute.String("memtier.record_id", r.ID),
			attribute.String("memtier.category", r.Category),
		),
	)
}

func (t *telemetry) endWrite(ctx context.Context, span trace.Span, tr tier.Tier, err error) {
	attrs := metric.WithAttributes(attribute.String("tier", tr.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.failures.Add(ctx, 1, attrs)
		return
	}
	t.writes.Add(ctx, 1, attrs)
}

func (t *telemetry) rejected(ctx context.Context, err error) {
	if errors.Is(err, queue.ErrQueueFull) {
		t.rejects.Add(ctx, 1)
	}
}

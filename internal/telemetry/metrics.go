package telemetry

import (
	"context"
	"time"

	"github.com/triage-ai/taskdb/internal/failover"
	"github.com/triage-ai/taskdb/internal/queue"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the TaskDB instruments.
type Metrics struct {
	QueueDepth          metric.Int64Gauge
	Enqueued            metric.Int64Counter
	Evicted             metric.Int64Counter
	FlushDuration       metric.Float64Histogram
	FlushBatchSize      metric.Int64Histogram
	DualMismatches      metric.Int64Counter
	FailoverTransitions metric.Int64Counter
}

// NewMetrics creates every instrument from meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.QueueDepth, err = meter.Int64Gauge("taskdb.queue.depth",
		metric.WithDescription("Events buffered in the write queue"),
	)
	if err != nil {
		return nil, err
	}

	m.Enqueued, err = meter.Int64Counter("taskdb.queue.enqueued",
		metric.WithDescription("Events accepted by the write queue"),
	)
	if err != nil {
		return nil, err
	}

	m.Evicted, err = meter.Int64Counter("taskdb.queue.evicted",
		metric.WithDescription("Oldest events evicted from a full queue"),
	)
	if err != nil {
		return nil, err
	}

	m.FlushDuration, err = meter.Float64Histogram("taskdb.flush.duration",
		metric.WithDescription("Latency of one batch flush in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.FlushBatchSize, err = meter.Int64Histogram("taskdb.flush.batch_size",
		metric.WithDescription("Events per flushed batch"),
	)
	if err != nil {
		return nil, err
	}

	m.DualMismatches, err = meter.Int64Counter("taskdb.dual.mismatches",
		metric.WithDescription("Disagreements between dual-write backends"),
	)
	if err != nil {
		return nil, err
	}

	m.FailoverTransitions, err = meter.Int64Counter("taskdb.failover.transitions",
		metric.WithDescription("Failover state changes"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// QueueHooks records queue activity.
func (m *Metrics) QueueHooks() queue.Hooks {
	ctx := context.Background()
	return queue.Hooks{
		OnEnqueue: func(n, depth int) {
			m.Enqueued.Add(ctx, int64(n))
			m.QueueDepth.Record(ctx, int64(depth))
		},
		OnFlushBatch: func(took time.Duration, size, remaining int) {
			m.FlushDuration.Record(ctx, took.Seconds())
			m.FlushBatchSize.Record(ctx, int64(size))
			m.QueueDepth.Record(ctx, int64(remaining))
		},
		OnFlushIdle: func(depth int) {
			m.QueueDepth.Record(ctx, int64(depth))
		},
		OnEvict: func(n int) {
			m.Evicted.Add(ctx, int64(n))
		},
	}
}

// OnMismatch counts a dual-write disagreement for op.
func (m *Metrics) OnMismatch(op string) {
	m.DualMismatches.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", op)))
}

// OnTransition counts a failover state change.
func (m *Metrics) OnTransition(from, to failover.State) {
	m.FailoverTransitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

// Package tasklog is the application-facing logging surface: it stamps events
// with the task context bound to the caller's context.Context and hands them to
// an injected adapter chain.
package tasklog

import (
	"context"
	"fmt"
	"time"

	"github.com/triage-ai/taskdb/internal/taskctx"
	"github.com/triage-ai/taskdb/internal/taskdb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/triage-ai/taskdb/internal/tasklog"

// Logger writes lifecycle events for the task bound to each call's context.
type Logger struct {
	adapter taskdb.Adapter
	now     func() time.Time
	tracer  trace.Tracer
	logger  *zap.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// WithTracer sets the tracer used for run spans. The global tracer is used
// otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(l *Logger) { l.tracer = t }
}

// WithZap sets the diagnostic logger.
func WithZap(z *zap.Logger) Option {
	return func(l *Logger) { l.logger = z }
}

// New returns a Logger writing to a.
func New(a taskdb.Adapter, opts ...Option) *Logger {
	l := &Logger{
		adapter: a,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.tracer == nil {
		l.tracer = otel.Tracer(instrumentationName)
	}
	return l
}

type logOptions struct {
	status   taskdb.Status
	duration *int64
	metadata map[string]any
}

// LogOption adjusts a single Log call.
type LogOption func(*logOptions)

// WithStatus sets the event status. The default is ok.
func WithStatus(s taskdb.Status) LogOption {
	return func(o *logOptions) { o.status = s }
}

// WithDuration records an elapsed time on the event.
func WithDuration(d time.Duration) LogOption {
	return func(o *logOptions) { o.duration = taskdb.Duration(d.Milliseconds()) }
}

// WithMetadata attaches free-form metadata.
func WithMetadata(m map[string]any) LogOption {
	return func(o *logOptions) { o.metadata = m }
}

// Log records one event of kind for the task bound to ctx. It returns
// taskdb.ErrContextMissing when nothing is bound.
func (l *Logger) Log(ctx context.Context, kind taskdb.Kind, payload map[string]any, opts ...LogOption) error {
	tc, err := taskctx.Assert(ctx)
	if err != nil {
		return err
	}
	o := logOptions{status: taskdb.StatusOK}
	for _, opt := range opts {
		opt(&o)
	}
	return l.adapter.Insert(ctx, taskdb.Event{
		Kind:       kind,
		Ctx:        tc,
		TS:         l.now().UnixMilli(),
		Status:     o.status,
		DurationMs: o.duration,
		Payload:    payload,
		Metadata:   o.metadata,
	})
}

// TaskMeta seeds the context created by WithTask. Empty ids are generated.
type TaskMeta struct {
	TraceID   string
	TaskID    string
	Component string
	Actor     string
	// Payload is recorded on the run.start event.
	Payload map[string]any
}

// WithTask runs fn under a fresh task context for runID, bracketed by
// run.start and either run.finish or run.error. A panic in fn is recorded
// as run.error and re-raised.
func (l *Logger) WithTask(ctx context.Context, runID string, meta TaskMeta, fn func(context.Context) error) (err error) {
	tc := taskctx.New(runID, taskctx.Overrides{Component: meta.Component, Actor: meta.Actor})
	if meta.TraceID != "" {
		tc.TraceID = meta.TraceID
	}
	if meta.TaskID != "" {
		tc.TaskID = meta.TaskID
	}

	ctx, span := l.tracer.Start(ctx, "taskdb.run",
		trace.WithAttributes(
			attribute.String("taskdb.run_id", tc.RunID),
			attribute.String("taskdb.trace_id", tc.TraceID),
			attribute.String("taskdb.task_id", tc.TaskID),
			attribute.String("taskdb.component", tc.Component),
		),
	)
	defer span.End()

	ctx = taskctx.With(ctx, tc)
	if err := l.Log(ctx, taskdb.KindRunStart, meta.Payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run.start not recorded")
		return fmt.Errorf("WithTask: %w", err)
	}

	start := l.now()
	defer func() {
		if r := recover(); r != nil {
			l.logRunError(ctx, span, fmt.Errorf("panic: %v", r), start)
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		l.logRunError(ctx, span, err, start)
		return err
	}

	if err := l.Log(ctx, taskdb.KindRunFinish, nil, WithDuration(l.now().Sub(start))); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run.finish not recorded")
		return fmt.Errorf("WithTask: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (l *Logger) logRunError(ctx context.Context, span trace.Span, runErr error, start time.Time) {
	span.RecordError(runErr)
	span.SetStatus(codes.Error, runErr.Error())
	err := l.Log(ctx, taskdb.KindRunError,
		map[string]any{"error": runErr.Error()},
		WithStatus(taskdb.StatusFail),
		WithDuration(l.now().Sub(start)),
	)
	if err != nil {
		tc, _ := taskctx.From(ctx)
		l.logger.Warn("failed to record run.error",
			zap.String("run_id", tc.RunID),
			zap.Error(err),
		)
	}
}

// Package taskctx binds a taskdb.TaskContext to a context.Context so that every
// call made on behalf of a task can recover it without threading it by hand.
package taskctx

import (
	"context"

	"github.com/google/uuid"
	"github.com/triage-ai/taskdb/internal/taskdb"
)

type taskContextKey struct{}

// Overrides adjusts the component and actor of a new or forked context.
// Empty fields keep the inherited value.
type Overrides struct {
	Component string
	Actor     string
}

// NewID returns a fresh opaque identifier.
func NewID() string {
	return uuid.NewString()
}

// New returns a root context for runID with fresh trace, span and task ids.
func New(runID string, o Overrides) taskdb.TaskContext {
	return taskdb.TaskContext{
		TraceID:   NewID(),
		SpanID:    NewID(),
		RunID:     runID,
		TaskID:    NewID(),
		Component: o.Component,
		Actor:     o.Actor,
	}
}

// With returns a copy of ctx bound to tc.
func With(ctx context.Context, tc taskdb.TaskContext) context.Context {
	return context.WithValue(ctx, taskContextKey{}, tc)
}

// Run calls fn with ctx bound to tc. The caller's ctx is untouched, so its
// binding is back in effect as soon as Run returns or panics.
func Run(ctx context.Context, tc taskdb.TaskContext, fn func(context.Context) error) error {
	return fn(With(ctx, tc))
}

// From returns the context bound to ctx, if any.
func From(ctx context.Context) (taskdb.TaskContext, bool) {
	tc, ok := ctx.Value(taskContextKey{}).(taskdb.TaskContext)
	return tc, ok
}

// Assert returns the bound context or taskdb.ErrContextMissing.
func Assert(ctx context.Context) (taskdb.TaskContext, error) {
	tc, ok := From(ctx)
	if !ok {
		return taskdb.TaskContext{}, taskdb.ErrContextMissing
	}
	return tc, nil
}

// Fork derives a child of the bound context: trace, run and task ids are kept,
// the current span becomes the parent and a new span id is issued.
func Fork(ctx context.Context, o Overrides) (taskdb.TaskContext, error) {
	parent, err := Assert(ctx)
	if err != nil {
		return taskdb.TaskContext{}, err
	}
	child := parent
	child.ParentSpanID = parent.SpanID
	child.SpanID = NewID()
	if o.Component != "" {
		child.Component = o.Component
	}
	if o.Actor != "" {
		child.Actor = o.Actor
	}
	return child, nil
}

// WithFork forks the bound context and runs fn under the child.
func WithFork(ctx context.Context, o Overrides, fn func(context.Context) error) error {
	child, err := Fork(ctx, o)
	if err != nil {
		return err
	}
	return Run(ctx, child, fn)
}

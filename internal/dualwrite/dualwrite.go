// Package dualwrite mirrors every adapter call onto two backends and reports
// where they disagree.
package dualwrite

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/triage-ai/taskdb/internal/taskdb"
	"go.uber.org/zap"
)

// Options controls how disagreements between the backends are surfaced.
type Options struct {
	// Strict returns the failing backend's error when only one side fails.
	Strict bool
	// LogMismatch logs a warning for every disagreement.
	LogMismatch bool
	// OnMismatch, if set, is called once per disagreement with the operation name.
	OnMismatch func(op string)
}

// Stats counts disagreements seen since construction.
type Stats struct {
	WriteMismatches uint64 `json:"write_mismatches"`
	QueryMismatches uint64 `json:"query_mismatches"`
}

// Verifier is a taskdb.Adapter that sends every call to a primary and a
// secondary backend concurrently. Disagreements are logged and counted,
// never reconciled.
type Verifier struct {
	primary   taskdb.Adapter
	secondary taskdb.Adapter
	opts      Options
	logger    *zap.Logger

	writeMismatches atomic.Uint64
	queryMismatches atomic.Uint64
}

// New returns a Verifier over primary and secondary.
func New(primary, secondary taskdb.Adapter, opts Options, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		primary:   primary,
		secondary: secondary,
		opts:      opts,
		logger:    logger,
	}
}

// outcome holds one backend's result.
type outcome struct {
	primary bool
	events  []taskdb.Event
	err     error
}

// fanOut runs call on both backends in parallel and waits for both.
func (v *Verifier) fanOut(call func(taskdb.Adapter) ([]taskdb.Event, error)) (p, s outcome) {
	ch := make(chan outcome, 2)
	for _, isPrimary := range []bool{true, false} {
		go func() {
			a := v.secondary
			if isPrimary {
				a = v.primary
			}
			evs, err := call(a)
			ch <- outcome{primary: isPrimary, events: evs, err: err}
		}()
	}
	for range 2 {
		out := <-ch
		if out.primary {
			p = out
		} else {
			s = out
		}
	}
	return p, s
}

func (v *Verifier) Insert(ctx context.Context, ev taskdb.Event) error {
	if err := taskdb.Validate(ev); err != nil {
		return err
	}
	p, s := v.fanOut(func(a taskdb.Adapter) ([]taskdb.Event, error) {
		return nil, a.Insert(ctx, ev)
	})
	return v.resolveWrite("insert", 1, p, s)
}

func (v *Verifier) BulkInsert(ctx context.Context, evs []taskdb.Event) error {
	if err := taskdb.ValidateAll(evs); err != nil {
		return err
	}
	p, s := v.fanOut(func(a taskdb.Adapter) ([]taskdb.Event, error) {
		return nil, a.BulkInsert(ctx, evs)
	})
	return v.resolveWrite("bulk_insert", len(evs), p, s)
}

func (v *Verifier) resolveWrite(op string, n int, p, s outcome) error {
	switch {
	case p.err == nil && s.err == nil:
		return nil
	case p.err != nil && s.err != nil:
		v.logger.Error("dual-write failed on both backends",
			zap.String("op", op),
			zap.Int("events", n),
			zap.NamedError("primary_error", p.err),
			zap.NamedError("secondary_error", s.err),
		)
		return p.err
	}

	v.writeMismatches.Add(1)
	failed := s
	if p.err != nil {
		failed = p
	}
	v.reportMismatch(op, failed, zap.Int("events", n))
	if v.opts.Strict {
		return failed.err
	}
	return nil
}

// Query returns the primary's result. When exactly one side fails, permissive
// mode returns the other side's result and strict mode returns the failure.
func (v *Verifier) Query(ctx context.Context, f taskdb.Filter, limit int) ([]taskdb.Event, error) {
	p, s := v.fanOut(func(a taskdb.Adapter) ([]taskdb.Event, error) {
		return a.Query(ctx, f, limit)
	})

	switch {
	case p.err == nil && s.err == nil:
		if d := Compare(p.events, s.events); !d.Equal() {
			v.queryMismatches.Add(1)
			if v.opts.LogMismatch {
				v.logger.Warn("dual-write query results differ",
					zap.Int("primary_count", len(p.events)),
					zap.Int("secondary_count", len(s.events)),
					zap.Int("only_primary", d.OnlyPrimary),
					zap.Int("only_secondary", d.OnlySecondary),
				)
			}
			if v.opts.OnMismatch != nil {
				v.opts.OnMismatch("query")
			}
		}
		return p.events, nil
	case p.err != nil && s.err != nil:
		return nil, p.err
	}

	v.queryMismatches.Add(1)
	failed, ok := s, p
	if p.err != nil {
		failed, ok = p, s
	}
	v.reportMismatch("query", failed)
	if v.opts.Strict {
		return nil, failed.err
	}
	return ok.events, nil
}

func (v *Verifier) reportMismatch(op string, failed outcome, fields ...zap.Field) {
	if v.opts.LogMismatch {
		backend := "secondary"
		if failed.primary {
			backend = "primary"
		}
		fields = append(fields,
			zap.String("op", op),
			zap.String("failed_backend", backend),
			zap.Bool("strict", v.opts.Strict),
			zap.Error(failed.err),
		)
		v.logger.Warn("dual-write mismatch", fields...)
	}
	if v.opts.OnMismatch != nil {
		v.opts.OnMismatch(op)
	}
}

// Stats returns the mismatch counters.
func (v *Verifier) Stats() Stats {
	return Stats{
		WriteMismatches: v.writeMismatches.Load(),
		QueryMismatches: v.queryMismatches.Load(),
	}
}

// Primary returns the primary backend.
func (v *Verifier) Primary() taskdb.Adapter { return v.primary }

// Secondary returns the secondary backend.
func (v *Verifier) Secondary() taskdb.Adapter { return v.secondary }

func (v *Verifier) Close() error {
	return errors.Join(v.primary.Close(), v.secondary.Close())
}

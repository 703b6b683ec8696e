package failover

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/triage-ai/taskdb/internal/taskdb"
	"github.com/triage-ai/taskdb/internal/taskdb/taskdbtest"
	"go.uber.org/zap"
)

func newController(opts Options) (*Controller, *taskdbtest.MemAdapter, *taskdbtest.MemAdapter) {
	p := taskdbtest.NewMemAdapter("primary")
	f := taskdbtest.NewMemAdapter("fallback")
	return New(p, f, opts, zap.NewNop()), p, f
}

func insert(t *testing.T, c *Controller, ts int64) {
	t.Helper()
	if err := c.Insert(context.Background(), taskdbtest.Event("r", taskdb.KindToolStart, ts)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func TestController_StartsOnPrimary(t *testing.T) {
	c, p, f := newController(Options{})
	insert(t, c, 1)
	if c.IsUsingFallback() {
		t.Fatal("expected primary active")
	}
	if p.Len() != 1 || f.Len() != 0 {
		t.Fatalf("expected write on primary only, got %d/%d", p.Len(), f.Len())
	}
	if st := c.Status(); st.State != StatePrimaryActive || st.ConsecutiveFailures != 0 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestController_FailsOverAfterMaxFailures(t *testing.T) {
	var transitions atomic.Int32
	c, p, f := newController(Options{MaxFailures: 3, OnTransition: func(from, to State) {
		if from != StatePrimaryActive || to != StateFallbackActive {
			t.Errorf("unexpected transition %s -> %s", from, to)
		}
		transitions.Add(1)
	}})
	p.FailWrites.Store(true)

	insert(t, c, 1)
	insert(t, c, 2)
	if c.IsUsingFallback() {
		t.Fatal("must not fail over before the third failure")
	}
	if st := c.Status(); st.ConsecutiveFailures != 2 {
		t.Fatalf("expected 2 failures, got %d", st.ConsecutiveFailures)
	}
	insert(t, c, 3)
	if !c.IsUsingFallback() {
		t.Fatal("expected fallback after three failures")
	}
	if transitions.Load() != 1 {
		t.Fatalf("expected one transition, got %d", transitions.Load())
	}
	// Failed primary writes are not lost.
	if f.Len() != 3 {
		t.Fatalf("expected 3 events in fallback, got %d", f.Len())
	}

	// Subsequent writes skip the primary entirely, even once it is healthy.
	p.FailWrites.Store(false)
	before := p.InsertCalls.Load()
	insert(t, c, 4)
	insert(t, c, 5)
	if p.InsertCalls.Load() != before {
		t.Fatal("primary must not receive writes in fallback mode")
	}
	if f.Len() != 5 {
		t.Fatalf("expected 5 events in fallback, got %d", f.Len())
	}
	if !c.IsUsingFallback() {
		t.Fatal("incidental primary health must not promote back")
	}
}

func TestController_SuccessResetsCounter(t *testing.T) {
	c, p, _ := newController(Options{MaxFailures: 3})

	p.FailWrites.Store(true)
	insert(t, c, 1)
	insert(t, c, 2)
	p.FailWrites.Store(false)
	insert(t, c, 3)
	if st := c.Status(); st.ConsecutiveFailures != 0 {
		t.Fatalf("expected counter reset, got %d", st.ConsecutiveFailures)
	}
	p.FailWrites.Store(true)
	insert(t, c, 4)
	insert(t, c, 5)
	if c.IsUsingFallback() {
		t.Fatal("non-consecutive failures must not trigger failover")
	}
}

func TestController_RecoveryRequiresProbe(t *testing.T) {
	var back atomic.Int32
	c, p, _ := newController(Options{MaxFailures: 1, OnTransition: func(from, to State) {
		if to == StatePrimaryActive {
			back.Add(1)
		}
	}})
	p.FailWrites.Store(true)
	insert(t, c, 1)
	if !c.IsUsingFallback() {
		t.Fatal("expected fallback")
	}

	p.FailReads.Store(true)
	if c.AttemptRecovery(context.Background()) {
		t.Fatal("recovery must fail while the primary read fails")
	}
	if !c.IsUsingFallback() {
		t.Fatal("expected fallback after failed probe")
	}

	p.FailReads.Store(false)
	p.FailWrites.Store(false)
	if !c.AttemptRecovery(context.Background()) {
		t.Fatal("expected recovery to succeed")
	}
	if c.IsUsingFallback() {
		t.Fatal("expected primary active after recovery")
	}
	if st := c.Status(); st.ConsecutiveFailures != 0 || st.LastError != "" {
		t.Fatalf("expected clean status after recovery, got %+v", st)
	}
	if back.Load() != 1 {
		t.Fatalf("expected one recovery transition, got %d", back.Load())
	}

	before := p.Len()
	insert(t, c, 2)
	if p.Len() != before+1 {
		t.Fatal("expected writes on primary after recovery")
	}
	if !c.AttemptRecovery(context.Background()) {
		t.Fatal("recovery on an active primary should report true")
	}
}

func TestController_QueryFallsBackWithoutChangingState(t *testing.T) {
	c, p, f := newController(Options{})
	ctx := context.Background()
	if err := f.Insert(ctx, taskdbtest.Event("r", taskdb.KindRunStart, 1)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	p.FailReads.Store(true)

	got, err := c.Query(ctx, taskdb.Filter{}, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected fallback result, got %d events", len(got))
	}
	if c.IsUsingFallback() || c.Status().ConsecutiveFailures != 0 {
		t.Fatal("read failures must not change write state")
	}
}

func TestController_FallbackModeReadsFallback(t *testing.T) {
	c, p, _ := newController(Options{MaxFailures: 1})
	p.FailWrites.Store(true)
	insert(t, c, 7)

	before := p.QueryCalls.Load()
	got, err := c.Query(context.Background(), taskdb.Filter{}, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].TS != 7 {
		t.Fatalf("expected fallback event, got %+v", got)
	}
	if p.QueryCalls.Load() != before {
		t.Fatal("primary must not be read in fallback mode")
	}
}

func TestController_FallbackFailureSurfaces(t *testing.T) {
	c, p, f := newController(Options{})
	p.FailWrites.Store(true)
	f.FailWrites.Store(true)
	err := c.Insert(context.Background(), taskdbtest.Event("r", taskdb.KindRunStart, 1))
	if !taskdb.IsStorage(err) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

func TestController_BulkInsertValidatesFirst(t *testing.T) {
	c, p, f := newController(Options{})
	bad := taskdbtest.Event("r", taskdb.KindRunStart, 1)
	bad.Ctx.RunID = ""
	err := c.BulkInsert(context.Background(), []taskdb.Event{bad})
	if !taskdb.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if p.BulkCalls.Load() != 0 || f.BulkCalls.Load() != 0 {
		t.Fatal("invalid batch must not reach a backend")
	}
	if c.Status().ConsecutiveFailures != 0 {
		t.Fatal("validation errors must not count as primary failures")
	}
}

func TestStatus_JSON(t *testing.T) {
	c, _, _ := newController(Options{})
	b, err := json.Marshal(c.Status())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"state":"primary_active"`) {
		t.Errorf("expected state name in JSON, got %s", b)
	}
}

package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/triage-ai/taskdb/internal/taskdb"
	"github.com/triage-ai/taskdb/internal/taskdb/taskdbtest"
)

// testAdapterContract exercises the behaviour every backend shares.
func testAdapterContract(t *testing.T, open func(t *testing.T) taskdb.Adapter) {
	t.Run("query returns newest first", func(t *testing.T) {
		a := open(t)
		ctx := context.Background()
		for _, ts := range []int64{1000, 3000, 2000} {
			if err := a.Insert(ctx, taskdbtest.Event("r1", taskdb.KindLLMCall, ts)); err != nil {
				t.Fatalf("Insert: %v", err)
			}
		}
		got, err := a.Query(ctx, taskdb.Filter{RunID: "r1"}, 0)
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 events, got %d", len(got))
		}
		for i, want := range []int64{3000, 2000, 1000} {
			if got[i].TS != want {
				t.Errorf("position %d: expected ts %d, got %d", i, want, got[i].TS)
			}
			if got[i].ID == "" {
				t.Errorf("position %d: expected store-assigned id", i)
			}
		}
	})

	t.Run("filters combine and limit applies", func(t *testing.T) {
		a := open(t)
		ctx := context.Background()
		evs := []taskdb.Event{
			taskdbtest.Event("r1", taskdb.KindToolStart, 10),
			taskdbtest.Event("r1", taskdb.KindToolFinish, 20),
			taskdbtest.Event("r2", taskdb.KindToolStart, 30),
			taskdbtest.Event("r1", taskdb.KindToolStart, 40),
		}
		evs[3].Status = taskdb.StatusFail
		if err := a.BulkInsert(ctx, evs); err != nil {
			t.Fatalf("BulkInsert: %v", err)
		}

		got, err := a.Query(ctx, taskdb.Filter{RunID: "r1", Kind: taskdb.KindToolStart}, 0)
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(got) != 2 || got[0].TS != 40 || got[1].TS != 10 {
			t.Fatalf("unexpected result: %+v", got)
		}

		got, err = a.Query(ctx, taskdb.Filter{Status: taskdb.StatusFail}, 0)
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(got) != 1 || got[0].TS != 40 {
			t.Fatalf("expected the failed event only, got %+v", got)
		}

		got, err = a.Query(ctx, taskdb.Filter{}, 2)
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(got) != 2 || got[0].TS != 40 || got[1].TS != 30 {
			t.Fatalf("expected two newest events, got %+v", got)
		}

		byID, err := a.Query(ctx, taskdb.Filter{ID: got[1].ID}, 0)
		if err != nil {
			t.Fatalf("Query by id: %v", err)
		}
		if len(byID) != 1 || byID[0].TS != 30 {
			t.Fatalf("expected lookup by id to return ts 30, got %+v", byID)
		}
	})

	t.Run("duplicates are kept", func(t *testing.T) {
		a := open(t)
		ctx := context.Background()
		ev := taskdbtest.Event("dup", taskdb.KindGatePass, 5)
		if err := a.Insert(ctx, ev); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if err := a.Insert(ctx, ev); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		got, err := a.Query(ctx, taskdb.Filter{RunID: "dup"}, 0)
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 events, got %d", len(got))
		}
	})

	t.Run("round trips optional fields", func(t *testing.T) {
		a := open(t)
		ctx := context.Background()
		ev := taskdbtest.Event("rt", taskdb.KindRunFinish, 77)
		ev.Ctx.ParentSpanID = "parent"
		ev.Ctx.Actor = "alice"
		ev.DurationMs = taskdb.Duration(12)
		ev.Payload = map[string]any{"model": "m1"}
		ev.Metadata = map[string]any{"attempt": "2"}
		if err := a.Insert(ctx, ev); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		got, err := a.Query(ctx, taskdb.Filter{RunID: "rt"}, 0)
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 event, got %d", len(got))
		}
		g := got[0]
		if g.Ctx.ParentSpanID != "parent" || g.Ctx.Actor != "alice" || g.Ctx.Component != "test" {
			t.Errorf("context not preserved: %+v", g.Ctx)
		}
		if g.DurationMs == nil || *g.DurationMs != 12 {
			t.Errorf("expected durationMs 12, got %v", g.DurationMs)
		}
		if g.Payload["model"] != "m1" || g.Metadata["attempt"] != "2" {
			t.Errorf("json columns not preserved: payload=%v metadata=%v", g.Payload, g.Metadata)
		}
		if g.Status != taskdb.StatusOK || g.Kind != taskdb.KindRunFinish {
			t.Errorf("unexpected kind/status: %s/%s", g.Kind, g.Status)
		}
	})

	t.Run("large payload is readable", func(t *testing.T) {
		a := open(t)
		ctx := context.Background()
		big := taskdbtest.Event("big", taskdb.KindLLMResult, 2)
		big.Payload = map[string]any{"text": strings.Repeat("x", 5<<20)}
		if err := a.BulkInsert(ctx, []taskdb.Event{taskdbtest.Event("big", taskdb.KindLLMCall, 1), big}); err != nil {
			t.Fatalf("BulkInsert: %v", err)
		}
		got, err := a.Query(ctx, taskdb.Filter{RunID: "big"}, 0)
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 events, got %d", len(got))
		}
		if text, _ := got[0].Payload["text"].(string); len(text) != 5<<20 {
			t.Errorf("expected a %d byte payload, got %d", 5<<20, len(text))
		}
	})

	t.Run("invalid batch persists nothing", func(t *testing.T) {
		a := open(t)
		ctx := context.Background()
		bad := taskdbtest.Event("v", taskdb.KindRunStart, 2)
		bad.Ctx.TaskID = ""
		err := a.BulkInsert(ctx, []taskdb.Event{taskdbtest.Event("v", taskdb.KindRunStart, 1), bad})
		var ve *taskdb.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected *ValidationError, got %v", err)
		}
		got, err := a.Query(ctx, taskdb.Filter{RunID: "v"}, 0)
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("expected nothing persisted, got %d events", len(got))
		}
	})
}

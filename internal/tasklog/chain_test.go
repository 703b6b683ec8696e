package tasklog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/triage-ai/taskdb/internal/config"
	"github.com/triage-ai/taskdb/internal/factory"
	"github.com/triage-ai/taskdb/internal/taskdb"
	"go.uber.org/zap"
)

func TestWithTask_QueuedSQLiteChain(t *testing.T) {
	cfg := config.Default()
	cfg.Driver = config.DriverSQLite
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "taskdb.db")
	cfg.Queue.Enabled = true

	ctx := context.Background()
	chain, err := factory.Build(ctx, cfg, factory.Options{Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = chain.Close() })

	l := New(chain.Adapter)
	begin := time.Now()
	err = l.WithTask(ctx, "run-1", TaskMeta{Component: "agent"}, func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		if err := l.Log(ctx, taskdb.KindLLMCall, map[string]any{"model": "m1"}); err != nil {
			return err
		}
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	wall := time.Since(begin)
	if err != nil {
		t.Fatalf("WithTask: %v", err)
	}

	got, err := chain.Adapter.Query(ctx, taskdb.Filter{RunID: "run-1"}, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := []taskdb.Kind{taskdb.KindRunFinish, taskdb.KindLLMCall, taskdb.KindRunStart}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(got), got)
	}
	for i, k := range want {
		if got[i].Kind != k {
			t.Errorf("position %d: expected %s, got %s", i, k, got[i].Kind)
		}
		if got[i].ID == "" {
			t.Errorf("position %d: expected a store-assigned id", i)
		}
	}

	finish := got[0]
	if finish.DurationMs == nil {
		t.Fatal("run.finish has no durationMs")
	}
	d := *finish.DurationMs
	if d < 40 || d > wall.Milliseconds()+5 {
		t.Errorf("durationMs %d outside [40, %d]", d, wall.Milliseconds()+5)
	}
	if gap := finish.TS - got[2].TS; gap < d || gap > d+5 {
		t.Errorf("durationMs %d disagrees with the start-finish ts gap %d", d, gap)
	}
	if got[1].Ctx.TraceID != got[2].Ctx.TraceID || got[1].Ctx.Component != "agent" {
		t.Errorf("llm.call not bound to the run context: %+v", got[1].Ctx)
	}
}

package api

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/triage-ai/taskdb/internal/storage"
	"github.com/triage-ai/taskdb/internal/taskdb"
)

type fakeAnalytics struct {
	calls atomic.Int32
	since atomic.Int64
	err   error
}

func (f *fakeAnalytics) Analytics(_ context.Context, since time.Time) (*storage.Analytics, error) {
	f.calls.Add(1)
	f.since.Store(since.UnixMilli())
	if f.err != nil {
		return nil, f.err
	}
	return &storage.Analytics{
		Since:        since,
		Summary:      storage.StatusCounts{Total: 3, OK: 2, Fail: 1},
		RunsOverTime: []storage.HourBucket{},
		TopKinds:     []storage.KindCount{{Kind: "tool.start", Count: 2}},
		FailingComponents: []storage.ComponentCount{
			{Component: "planner", Failures: 1},
		},
		Duration: storage.DurationStats{P50: 12, P95: 30, P99: 31},
	}, nil
}

func TestAnalytics(t *testing.T) {
	chain, _ := memChain()
	fake := &fakeAnalytics{}
	chain.Analytics = fake
	srv := newServer(t, chain, nil)

	resp := do(t, http.MethodGet, srv.URL+"/v1/analytics?days=2", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got := decode[storage.Analytics](t, resp)
	if got.Summary.Total != 3 || len(got.FailingComponents) != 1 || got.Duration.P95 != 30 {
		t.Errorf("unexpected analytics: %+v", got)
	}
	if age := time.Since(time.UnixMilli(fake.since.Load())); age < 47*time.Hour || age > 49*time.Hour {
		t.Errorf("expected a two day window, got %v", age)
	}
}

func TestAnalytics_BadDays(t *testing.T) {
	chain, _ := memChain()
	fake := &fakeAnalytics{}
	chain.Analytics = fake
	srv := newServer(t, chain, nil)

	for _, q := range []string{"0", "91", "abc"} {
		resp := do(t, http.MethodGet, srv.URL+"/v1/analytics?days="+q, nil, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("days=%s: expected 400, got %d", q, resp.StatusCode)
		}
	}
	if n := fake.calls.Load(); n != 0 {
		t.Errorf("expected no backend calls, got %d", n)
	}
}

func TestAnalytics_Unavailable(t *testing.T) {
	chain, _ := memChain()
	srv := newServer(t, chain, nil)

	resp := do(t, http.MethodGet, srv.URL+"/v1/analytics", nil, nil)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", resp.StatusCode)
	}
}

func TestAnalytics_StorageError(t *testing.T) {
	chain, _ := memChain()
	chain.Analytics = &fakeAnalytics{err: taskdb.NewStorageError("clickhouse", "analytics", errors.New("down"))}
	srv := newServer(t, chain, nil)

	resp := do(t, http.MethodGet, srv.URL+"/v1/analytics", nil, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

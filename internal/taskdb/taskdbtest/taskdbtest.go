// Package taskdbtest provides an in-memory adapter and event builders for tests.
package taskdbtest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/triage-ai/taskdb/internal/taskdb"
)

// ErrInjected is returned by MemAdapter when failure injection is on.
var ErrInjected = errors.New("injected failure")

// Event returns a valid event for run with the given kind and timestamp.
func Event(run string, kind taskdb.Kind, ts int64) taskdb.Event {
	return taskdb.Event{
		Kind: kind,
		Ctx: taskdb.TaskContext{
			TraceID:   "trace-" + run,
			SpanID:    "span-" + strconv.FormatInt(ts, 10),
			RunID:     run,
			TaskID:    "task-" + run,
			Component: "test",
		},
		TS:     ts,
		Status: taskdb.StatusOK,
	}
}

// MemAdapter is a thread-safe in-memory taskdb.Adapter with call counters and
// switchable failure injection.
type MemAdapter struct {
	Name string

	mu     sync.Mutex
	events []taskdb.Event
	nextID int

	FailWrites atomic.Bool
	FailReads  atomic.Bool

	InsertCalls atomic.Int32
	BulkCalls   atomic.Int32
	QueryCalls  atomic.Int32
	Closed      atomic.Bool

	// BeforeBulk, when set, runs at the start of every BulkInsert.
	BeforeBulk func(evs []taskdb.Event)
}

// NewMemAdapter returns an empty MemAdapter.
func NewMemAdapter(name string) *MemAdapter {
	return &MemAdapter{Name: name}
}

func (m *MemAdapter) Insert(ctx context.Context, ev taskdb.Event) error {
	m.InsertCalls.Add(1)
	return m.write([]taskdb.Event{ev})
}

func (m *MemAdapter) BulkInsert(ctx context.Context, evs []taskdb.Event) error {
	m.BulkCalls.Add(1)
	if m.BeforeBulk != nil {
		m.BeforeBulk(evs)
	}
	return m.write(evs)
}

func (m *MemAdapter) write(evs []taskdb.Event) error {
	if err := taskdb.ValidateAll(evs); err != nil {
		return err
	}
	if m.FailWrites.Load() {
		return taskdb.NewStorageError(m.Name, "insert", ErrInjected)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range evs {
		m.nextID++
		ev.ID = strconv.Itoa(m.nextID)
		m.events = append(m.events, ev)
	}
	return nil
}

func (m *MemAdapter) Query(ctx context.Context, f taskdb.Filter, limit int) ([]taskdb.Event, error) {
	m.QueryCalls.Add(1)
	if m.FailReads.Load() {
		return nil, taskdb.NewStorageError(m.Name, "query", ErrInjected)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []taskdb.Event
	for i := len(m.events) - 1; i >= 0; i-- {
		if f.Match(m.events[i]) {
			out = append(out, m.events[i])
		}
	}
	taskdb.SortNewestFirst(out)
	if limit = taskdb.NormalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemAdapter) Close() error {
	m.Closed.Store(true)
	return nil
}

// Len returns the number of stored events.
func (m *MemAdapter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// Events returns a copy of the stored events in insertion order.
func (m *MemAdapter) Events() []taskdb.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]taskdb.Event, len(m.events))
	copy(out, m.events)
	return out
}

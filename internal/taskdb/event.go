package taskdb

import (
	"slices"
	"strings"
)

// Kind names a lifecycle event. The set is open: the constants below are the
// kinds the pipeline emits today, and any other non-empty dotted name is accepted.
type Kind string

const (
	KindRunStart        Kind = "run.start"
	KindRunFinish       Kind = "run.finish"
	KindRunError        Kind = "run.error"
	KindGuardrailInput  Kind = "guardrail.input"
	KindGuardrailOutput Kind = "guardrail.output"
	KindRouterDecision  Kind = "router.decision"
	KindMemoryInject    Kind = "memory.inject"
	KindMemoryStore     Kind = "memory.store"
	KindToolStart       Kind = "tool.start"
	KindToolFinish      Kind = "tool.finish"
	KindToolError       Kind = "tool.error"
	KindLLMCall         Kind = "llm.call"
	KindLLMResult       Kind = "llm.result"
	KindPerfBenchmark   Kind = "perf.benchmark"
	KindGatePass        Kind = "gate.pass"
	KindGateFail        Kind = "gate.fail"
)

// DefaultKinds lists the kinds emitted by the orchestration pipeline.
var DefaultKinds = []Kind{
	KindRunStart, KindRunFinish, KindRunError,
	KindGuardrailInput, KindGuardrailOutput,
	KindRouterDecision,
	KindMemoryInject, KindMemoryStore,
	KindToolStart, KindToolFinish, KindToolError,
	KindLLMCall, KindLLMResult,
	KindPerfBenchmark,
	KindGatePass, KindGateFail,
}

// Known reports whether k is one of DefaultKinds.
func (k Kind) Known() bool {
	return slices.Contains(DefaultKinds, k)
}

// Family returns the part of the kind before the first dot ("tool" for "tool.start").
func (k Kind) Family() string {
	s := string(k)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// Status is the outcome recorded on an event. The zero value means unset.
type Status string

const (
	StatusOK   Status = "ok"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// Valid reports whether s is unset or one of ok, fail, skip.
func (s Status) Valid() bool {
	switch s {
	case "", StatusOK, StatusFail, StatusSkip:
		return true
	default:
		return false
	}
}

// TaskContext carries the causal identifiers of one unit of work.
// ParentSpanID is set exactly when the context was produced by forking.
type TaskContext struct {
	TraceID      string `json:"traceId"`
	SpanID       string `json:"spanId"`
	ParentSpanID string `json:"parentSpanId,omitempty"`
	RunID        string `json:"runId"`
	TaskID       string `json:"taskId"`
	Component    string `json:"component"`
	Actor        string `json:"actor,omitempty"`
}

// Event is one immutable lifecycle fact. TS (epoch millis) is the only
// ordering key; stores may attach ID but never modify anything else.
type Event struct {
	ID         string         `json:"id,omitempty"`
	Kind       Kind           `json:"kind"`
	Ctx        TaskContext    `json:"ctx"`
	TS         int64          `json:"ts"`
	Status     Status         `json:"status,omitempty"`
	DurationMs *int64         `json:"durationMs,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Duration returns a pointer suitable for Event.DurationMs.
func Duration(ms int64) *int64 {
	return &ms
}

// SortNewestFirst orders events by TS descending. The sort is stable, so callers
// that pass events in insertion order must reverse them first if ties should list
// the latest insert first.
func SortNewestFirst(evs []Event) {
	slices.SortStableFunc(evs, func(a, b Event) int {
		switch {
		case a.TS > b.TS:
			return -1
		case a.TS < b.TS:
			return 1
		default:
			return 0
		}
	})
}

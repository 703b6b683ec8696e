package taskdb

// DefaultQueryLimit is applied when Query is called with limit <= 0.
const DefaultQueryLimit = 1000

// Filter selects events by exact field match. Empty fields are wildcards and
// set fields are ANDed.
type Filter struct {
	ID        string
	TraceID   string
	RunID     string
	TaskID    string
	SpanID    string
	Kind      Kind
	Status    Status
	Component string
}

// IsZero reports whether the filter matches every event.
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// Match reports whether ev satisfies every set field of f.
func (f Filter) Match(ev Event) bool {
	if f.ID != "" && ev.ID != f.ID {
		return false
	}
	if f.TraceID != "" && ev.Ctx.TraceID != f.TraceID {
		return false
	}
	if f.RunID != "" && ev.Ctx.RunID != f.RunID {
		return false
	}
	if f.TaskID != "" && ev.Ctx.TaskID != f.TaskID {
		return false
	}
	if f.SpanID != "" && ev.Ctx.SpanID != f.SpanID {
		return false
	}
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	if f.Status != "" && ev.Status != f.Status {
		return false
	}
	if f.Component != "" && ev.Ctx.Component != f.Component {
		return false
	}
	return true
}

// NormalizeLimit maps non-positive limits to DefaultQueryLimit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	return limit
}

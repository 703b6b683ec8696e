package taskdb

import "strconv"

// Validate checks the fields every backend relies on. It does not check Kind
// against DefaultKinds; unknown kinds are allowed.
func Validate(ev Event) error {
	switch {
	case ev.Ctx.TraceID == "":
		return &ValidationError{Field: "ctx.traceId", Reason: "is required"}
	case ev.Ctx.SpanID == "":
		return &ValidationError{Field: "ctx.spanId", Reason: "is required"}
	case ev.Ctx.RunID == "":
		return &ValidationError{Field: "ctx.runId", Reason: "is required"}
	case ev.Ctx.TaskID == "":
		return &ValidationError{Field: "ctx.taskId", Reason: "is required"}
	case ev.Kind == "":
		return &ValidationError{Field: "kind", Reason: "is required"}
	case ev.TS <= 0:
		return &ValidationError{Field: "ts", Reason: "must be a positive epoch millisecond timestamp"}
	case !ev.Status.Valid():
		return &ValidationError{Field: "status", Reason: "must be one of ok, fail, skip"}
	case ev.DurationMs != nil && *ev.DurationMs < 0:
		return &ValidationError{Field: "durationMs", Reason: "must not be negative"}
	}
	return nil
}

// ValidateAll validates every event and returns the first failure, prefixed
// with its batch index.
func ValidateAll(evs []Event) error {
	for i, ev := range evs {
		if err := Validate(ev); err != nil {
			ve := err.(*ValidationError)
			return &ValidationError{Field: "[" + strconv.Itoa(i) + "]." + ve.Field, Reason: ve.Reason}
		}
	}
	return nil
}

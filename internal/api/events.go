package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/triage-ai/taskdb/internal/taskdb"
	"go.uber.org/zap"
)

func (d *Dependencies) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResp{Detail: "Request body too large"})
		return
	}

	events, err := parseEvents(body)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, ev := range events {
		if !ev.Kind.Known() {
			d.Logger.Debug("ingesting custom event kind",
				zap.String("kind", string(ev.Kind)),
				zap.String("family", ev.Kind.Family()),
			)
		}
	}

	if len(events) == 1 {
		err = d.Chain.Adapter.Insert(r.Context(), events[0])
	} else {
		err = d.Chain.Adapter.BulkInsert(r.Context(), events)
	}
	if err != nil {
		if !taskdb.IsValidation(err) {
			d.Logger.Error("failed to ingest events", zap.Int("batch_size", len(events)), zap.Error(err))
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, IngestResp{Accepted: len(events)})
}

// parseEvents schema-validates one event or an {"events": [...]} batch.
// Client-supplied ids are dropped; the store assigns them.
func parseEvents(body []byte) ([]taskdb.Event, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, &taskdb.ValidationError{Field: "body", Reason: "is empty"}
	}

	var batch BatchReq
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, &taskdb.ValidationError{Field: "body", Reason: "is not a JSON object"}
	}
	if batch.Events == nil {
		ev, err := taskdb.ParseEvent(body)
		if err != nil {
			return nil, err
		}
		ev.ID = ""
		return []taskdb.Event{ev}, nil
	}
	if len(batch.Events) == 0 {
		return nil, &taskdb.ValidationError{Field: "events", Reason: "is empty"}
	}

	out := make([]taskdb.Event, 0, len(batch.Events))
	for i, raw := range batch.Events {
		ev, err := taskdb.ParseEvent(raw)
		if err != nil {
			var ve *taskdb.ValidationError
			if errors.As(err, &ve) {
				return nil, &taskdb.ValidationError{Field: fmt.Sprintf("events[%d].%s", i, ve.Field), Reason: ve.Reason}
			}
			return nil, err
		}
		ev.ID = ""
		out = append(out, ev)
	}
	return out, nil
}

func (d *Dependencies) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := taskdb.Filter{
		ID:        q.Get("id"),
		TraceID:   q.Get("trace_id"),
		RunID:     q.Get("run_id"),
		TaskID:    q.Get("task_id"),
		SpanID:    q.Get("span_id"),
		Kind:      taskdb.Kind(q.Get("kind")),
		Status:    taskdb.Status(q.Get("status")),
		Component: q.Get("component"),
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "limit must be a non-negative integer", Field: "limit"})
			return
		}
		limit = n
	}

	events, err := d.Chain.Adapter.Query(r.Context(), f, limit)
	if err != nil {
		d.Logger.Error("failed to query events", zap.Error(err))
		writeError(w, err)
		return
	}
	if events == nil {
		events = []taskdb.Event{}
	}
	writeJSON(w, http.StatusOK, EventListResp{Events: events, Count: len(events)})
}

// writeError maps taskdb errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var ve *taskdb.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: ve.Reason, Field: ve.Field})
	case taskdb.IsStorage(err):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Storage unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
	}
}

package api

import (
	"encoding/json"

	"github.com/triage-ai/taskdb/internal/factory"
	"github.com/triage-ai/taskdb/internal/taskdb"
)

// --- Events ---

// BatchReq is the multi-event form of POST /v1/events. A body without an
// "events" key is decoded as a single event.
type BatchReq struct {
	Events []json.RawMessage `json:"events"`
}

// IngestResp acknowledges accepted events. With a queue in front of the
// store, acceptance means enqueued, not yet persisted.
type IngestResp struct {
	Accepted int `json:"accepted"`
}

// EventListResp is the response of GET /v1/events, newest first.
type EventListResp struct {
	Events []taskdb.Event `json:"events"`
	Count  int            `json:"count"`
}

// --- Status ---

type StatusResp struct {
	factory.Status
	UsingFallback bool `json:"using_fallback"`
}

type RecoverResp struct {
	Recovered bool       `json:"recovered"`
	Status    StatusResp `json:"status"`
}

// --- Errors ---

type ErrorResp struct {
	Detail string `json:"detail"`
	Field  string `json:"field,omitempty"`
}

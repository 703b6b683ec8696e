package taskdb

import "context"

// Adapter is the storage contract shared by every backend and every policy
// layer wrapped around one.
//
// Insert and BulkInsert return *ValidationError before touching the backend when
// an event is malformed, and *StorageError on backend faults. Whether a failed
// BulkInsert leaves part of the batch behind is backend specific and documented
// on each implementation.
//
// Query returns at most limit events matching f, newest first by TS.
// A limit <= 0 means DefaultQueryLimit.
type Adapter interface {
	Insert(ctx context.Context, ev Event) error
	BulkInsert(ctx context.Context, evs []Event) error
	Query(ctx context.Context, f Filter, limit int) ([]Event, error)
	Close() error
}

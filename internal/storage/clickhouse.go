package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"github.com/triage-ai/taskdb/internal/taskdb"
	"go.uber.org/zap"
)

// ClickHouseStore keeps events in a MergeTree table for analytics workloads.
//
// BulkInsert sends one native block per call. ClickHouse applies a block
// atomically, so a batch is all-or-nothing while it fits in a single block
// (max_insert_block_size, about a million rows by default). Ids are UUIDs
// generated client-side; events sharing a timestamp come back in no
// particular order.
type ClickHouseStore struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseStore connects with dsn and creates the table if missing.
func NewClickHouseStore(ctx context.Context, dsn string, logger *zap.Logger) (*ClickHouseStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, taskdb.NewStorageError(BackendClickHouse, "open", err)
	}

	// ParseDSN only sets TLS for ?secure=true; ClickHouse Cloud needs it regardless.
	if opts.TLS == nil && strings.Contains(dsn, "secure=true") {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, taskdb.NewStorageError(BackendClickHouse, "open", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, taskdb.NewStorageError(BackendClickHouse, "ping", err)
	}

	for _, stmt := range clickHouseSchema {
		if err := conn.Exec(ctx, stmt); err != nil {
			_ = conn.Close()
			return nil, taskdb.NewStorageError(BackendClickHouse, "schema", err)
		}
	}

	return &ClickHouseStore{conn: conn, logger: logger}, nil
}

func (s *ClickHouseStore) Insert(ctx context.Context, ev taskdb.Event) error {
	return s.BulkInsert(ctx, []taskdb.Event{ev})
}

func (s *ClickHouseStore) BulkInsert(ctx context.Context, evs []taskdb.Event) error {
	if err := taskdb.ValidateAll(evs); err != nil {
		return err
	}
	if len(evs) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+TableName+" (id, "+eventColumns+")")
	if err != nil {
		return taskdb.NewStorageError(BackendClickHouse, "prepare", err)
	}

	for _, ev := range evs {
		payload, err := encodeJSONMap(ev.Payload)
		if err != nil {
			_ = batch.Abort()
			return taskdb.NewStorageError(BackendClickHouse, "encode", err)
		}
		metadata, err := encodeJSONMap(ev.Metadata)
		if err != nil {
			_ = batch.Abort()
			return taskdb.NewStorageError(BackendClickHouse, "encode", err)
		}

		id := ev.ID
		if id == "" {
			id = uuid.NewString()
		}
		if err := batch.Append(
			id,
			ev.Ctx.TraceID,
			ev.Ctx.SpanID,
			ev.Ctx.ParentSpanID,
			ev.Ctx.RunID,
			ev.Ctx.TaskID,
			ev.Ctx.Component,
			ev.Ctx.Actor,
			string(ev.Kind),
			string(ev.Status),
			ev.TS,
			ev.DurationMs,
			columnString(payload),
			columnString(metadata),
		); err != nil {
			_ = batch.Abort()
			return taskdb.NewStorageError(BackendClickHouse, "append", err)
		}
	}

	if err := batch.Send(); err != nil {
		s.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(evs)),
			zap.Error(err),
		)
		return taskdb.NewStorageError(BackendClickHouse, "send", err)
	}
	return nil
}

func columnString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// buildClickHouseQuery renders the SELECT for f with named parameters.
func buildClickHouseQuery(f taskdb.Filter, limit int) (string, []any) {
	var conditions []string
	var args []any
	add := func(column, value string) {
		conditions = append(conditions, column+" = @"+column)
		args = append(args, clickhouse.Named(column, value))
	}

	if f.ID != "" {
		add("id", f.ID)
	}
	if f.TraceID != "" {
		add("trace_id", f.TraceID)
	}
	if f.RunID != "" {
		add("run_id", f.RunID)
	}
	if f.TaskID != "" {
		add("task_id", f.TaskID)
	}
	if f.SpanID != "" {
		add("span_id", f.SpanID)
	}
	if f.Kind != "" {
		add("kind", string(f.Kind))
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if f.Component != "" {
		add("component", f.Component)
	}

	query := "SELECT id, " + eventColumns + " FROM " + TableName
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY ts DESC LIMIT @limit"
	args = append(args, clickhouse.Named("limit", taskdb.NormalizeLimit(limit)))
	return query, args
}

func (s *ClickHouseStore) Query(ctx context.Context, f taskdb.Filter, limit int) ([]taskdb.Event, error) {
	query, args := buildClickHouseQuery(f, limit)
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, taskdb.NewStorageError(BackendClickHouse, "query", fmt.Errorf("Query: %w", err))
	}
	defer rows.Close()

	var out []taskdb.Event
	for rows.Next() {
		var (
			ev                taskdb.Event
			kind, status      string
			duration          *int64
			payload, metadata string
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.Ctx.TraceID,
			&ev.Ctx.SpanID,
			&ev.Ctx.ParentSpanID,
			&ev.Ctx.RunID,
			&ev.Ctx.TaskID,
			&ev.Ctx.Component,
			&ev.Ctx.Actor,
			&kind,
			&status,
			&ev.TS,
			&duration,
			&payload,
			&metadata,
		); err != nil {
			return nil, taskdb.NewStorageError(BackendClickHouse, "scan", err)
		}
		ev.Kind = taskdb.Kind(kind)
		ev.Status = taskdb.Status(status)
		ev.DurationMs = duration
		if ev.Payload, err = decodeJSONMap(payload); err != nil {
			return nil, taskdb.NewStorageError(BackendClickHouse, "scan", err)
		}
		if ev.Metadata, err = decodeJSONMap(metadata); err != nil {
			return nil, taskdb.NewStorageError(BackendClickHouse, "scan", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, taskdb.NewStorageError(BackendClickHouse, "query", err)
	}
	return out, nil
}

// Count returns the number of stored events.
func (s *ClickHouseStore) Count(ctx context.Context) (int64, error) {
	var n uint64
	if err := s.conn.QueryRow(ctx, "SELECT count() FROM "+TableName).Scan(&n); err != nil {
		return 0, taskdb.NewStorageError(BackendClickHouse, "count", err)
	}
	return int64(n), nil
}

func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

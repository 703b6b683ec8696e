package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/triage-ai/taskdb/internal/taskdb"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Register sqlite as database/sql driver
)

const eventColumns = "trace_id, span_id, parent_span_id, run_id, task_id, component, actor, kind, status, ts, duration_ms, payload, metadata"

// SQLStore is the relational adapter shared by SQLite and Postgres.
//
// BulkInsert runs in a single transaction: a failed batch persists nothing.
// Ids are the table's auto-increment key rendered as decimal strings.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// PoolConfig sizes the database/sql pool for server backends.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig is used for zero PoolConfig fields.
var DefaultPoolConfig = PoolConfig{
	MaxOpenConns:    10,
	MaxIdleConns:    5,
	ConnMaxLifetime: 5 * time.Minute,
}

// OpenSQLite opens (creating if needed) the database at path in WAL mode.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLStore, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open(SQLiteDialect.Driver, dsn)
	if err != nil {
		return nil, taskdb.NewStorageError(BackendSQLite, "open", err)
	}
	// A single connection serialises writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	return NewSQLStore(ctx, db, SQLiteDialect, logger)
}

// OpenPostgres connects to the Postgres server at url.
func OpenPostgres(ctx context.Context, url string, pool PoolConfig, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open(PostgresDialect.Driver, url)
	if err != nil {
		return nil, taskdb.NewStorageError(BackendPostgres, "open", err)
	}
	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = DefaultPoolConfig.MaxOpenConns
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = DefaultPoolConfig.MaxIdleConns
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = DefaultPoolConfig.ConnMaxLifetime
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, taskdb.NewStorageError(BackendPostgres, "ping", err)
	}
	return NewSQLStore(ctx, db, PostgresDialect, logger)
}

// NewSQLStore wraps db and ensures the schema exists.
func NewSQLStore(ctx context.Context, db *sql.DB, d Dialect, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SQLStore{db: db, dialect: d, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return taskdb.NewStorageError(s.dialect.Name, "schema", err)
		}
	}
	return nil
}

// DB exposes the underlying pool.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Insert(ctx context.Context, ev taskdb.Event) error {
	return s.BulkInsert(ctx, []taskdb.Event{ev})
}

func (s *SQLStore) BulkInsert(ctx context.Context, evs []taskdb.Event) error {
	if err := taskdb.ValidateAll(evs); err != nil {
		return err
	}
	if len(evs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return taskdb.NewStorageError(s.dialect.Name, "begin", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, s.insertSQL())
	if err != nil {
		return taskdb.NewStorageError(s.dialect.Name, "prepare", err)
	}
	defer stmt.Close()

	for _, ev := range evs {
		args, err := insertArgs(ev)
		if err != nil {
			return taskdb.NewStorageError(s.dialect.Name, "encode", err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return taskdb.NewStorageError(s.dialect.Name, "insert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return taskdb.NewStorageError(s.dialect.Name, "commit", err)
	}
	return nil
}

func (s *SQLStore) insertSQL() string {
	marks := make([]string, 13)
	for i := range marks {
		marks[i] = s.dialect.Placeholder(i + 1)
	}
	return "INSERT INTO " + TableName + " (" + eventColumns + ") VALUES (" + strings.Join(marks, ", ") + ")"
}

func insertArgs(ev taskdb.Event) ([]any, error) {
	payload, err := encodeJSONMap(ev.Payload)
	if err != nil {
		return nil, err
	}
	metadata, err := encodeJSONMap(ev.Metadata)
	if err != nil {
		return nil, err
	}
	var duration any
	if ev.DurationMs != nil {
		duration = *ev.DurationMs
	}
	return []any{
		ev.Ctx.TraceID,
		ev.Ctx.SpanID,
		nullString(ev.Ctx.ParentSpanID),
		ev.Ctx.RunID,
		ev.Ctx.TaskID,
		ev.Ctx.Component,
		nullString(ev.Ctx.Actor),
		string(ev.Kind),
		nullString(string(ev.Status)),
		ev.TS,
		duration,
		payload,
		metadata,
	}, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// buildQuery renders the SELECT for f. ok is false when f can match nothing.
func (s *SQLStore) buildQuery(f taskdb.Filter, limit int) (query string, args []any, ok bool) {
	var conditions []string
	add := func(column string, v any) {
		args = append(args, v)
		conditions = append(conditions, column+" = "+s.dialect.Placeholder(len(args)))
	}

	if f.ID != "" {
		id, err := strconv.ParseInt(f.ID, 10, 64)
		if err != nil {
			return "", nil, false
		}
		add("id", id)
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

	var b strings.Builder
	b.WriteString("SELECT id, " + eventColumns + " FROM " + TableName)
	if len(conditions) > 0 {
		b.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	args = append(args, taskdb.NormalizeLimit(limit))
	fmt.Fprintf(&b, " ORDER BY ts DESC, id DESC LIMIT %s", s.dialect.Placeholder(len(args)))
	return b.String(), args, true
}

func (s *SQLStore) Query(ctx context.Context, f taskdb.Filter, limit int) ([]taskdb.Event, error) {
	query, args, ok := s.buildQuery(f, limit)
	if !ok {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, taskdb.NewStorageError(s.dialect.Name, "query", err)
	}
	defer rows.Close()

	var out []taskdb.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, taskdb.NewStorageError(s.dialect.Name, "scan", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, taskdb.NewStorageError(s.dialect.Name, "query", err)
	}
	return out, nil
}

func scanEvent(rows *sql.Rows) (taskdb.Event, error) {
	var (
		ev                        taskdb.Event
		id                        int64
		kind                      string
		parentSpan, actor, status sql.NullString
		duration                  sql.NullInt64
		payload, metadata         sql.NullString
	)
	if err := rows.Scan(
		&id,
		&ev.Ctx.TraceID,
		&ev.Ctx.SpanID,
		&parentSpan,
		&ev.Ctx.RunID,
		&ev.Ctx.TaskID,
		&ev.Ctx.Component,
		&actor,
		&kind,
		&status,
		&ev.TS,
		&duration,
		&payload,
		&metadata,
	); err != nil {
		return taskdb.Event{}, err
	}

	ev.ID = strconv.FormatInt(id, 10)
	ev.Kind = taskdb.Kind(kind)
	ev.Ctx.ParentSpanID = parentSpan.String
	ev.Ctx.Actor = actor.String
	ev.Status = taskdb.Status(status.String)
	if duration.Valid {
		ev.DurationMs = taskdb.Duration(duration.Int64)
	}
	var err error
	if ev.Payload, err = decodeJSONMap(payload.String); err != nil {
		return taskdb.Event{}, err
	}
	if ev.Metadata, err = decodeJSONMap(metadata.String); err != nil {
		return taskdb.Event{}, err
	}
	return ev, nil
}

// Count returns the number of stored events.
func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+TableName).Scan(&n); err != nil {
		return 0, taskdb.NewStorageError(s.dialect.Name, "count", err)
	}
	return n, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

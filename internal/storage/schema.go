package storage

import (
	"strconv"
)

// Dialect captures the differences between the SQL backends sharing SQLStore.
type Dialect struct {
	Name   string
	Driver string
	Schema []string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder func(n int) string
}

// SQLiteDialect targets modernc.org/sqlite. JSON columns are TEXT.
var SQLiteDialect = Dialect{
	Name:   BackendSQLite,
	Driver: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS taskdb_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT NOT NULL,
			span_id TEXT NOT NULL,
			parent_span_id TEXT,
			run_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			component TEXT NOT NULL DEFAULT '',
			actor TEXT,
			kind TEXT NOT NULL,
			status TEXT,
			ts INTEGER NOT NULL,
			duration_ms INTEGER,
			payload TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_taskdb_events_ts ON taskdb_events (ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_taskdb_events_run ON taskdb_events (run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_taskdb_events_task ON taskdb_events (task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_taskdb_events_kind ON taskdb_events (kind)`,
		`CREATE INDEX IF NOT EXISTS idx_taskdb_events_component ON taskdb_events (component)`,
		`CREATE INDEX IF NOT EXISTS idx_taskdb_events_trace ON taskdb_events (trace_id)`,
	},
	Placeholder: func(int) string { return "?" },
}

// PostgresDialect targets Postgres through pgx's database/sql driver.
var PostgresDialect = Dialect{
	Name:   BackendPostgres,
	Driver: "pgx",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS taskdb_events (
			id BIGSERIAL PRIMARY KEY,
			trace_id TEXT NOT NULL,
			span_id TEXT NOT NULL,
			parent_span_id TEXT,
			run_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			component TEXT NOT NULL DEFAULT '',
			actor TEXT,
			kind TEXT NOT NULL,
			status TEXT,
			ts BIGINT NOT NULL,
			duration_ms BIGINT,
			payload JSONB,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_taskdb_events_ts ON taskdb_events (ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_taskdb_events_run ON taskdb_events (run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_taskdb_events_task ON taskdb_events (task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_taskdb_events_kind ON taskdb_events (kind)`,
		`CREATE INDEX IF NOT EXISTS idx_taskdb_events_component ON taskdb_events (component)`,
		`CREATE INDEX IF NOT EXISTS idx_taskdb_events_trace ON taskdb_events (trace_id)`,
	},
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
}

// clickHouseSchema is applied by NewClickHouseStore.
var clickHouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS taskdb_events (
		id String,
		trace_id String,
		span_id String,
		parent_span_id String,
		run_id String,
		task_id String,
		component LowCardinality(String),
		actor String,
		kind LowCardinality(String),
		status LowCardinality(String),
		ts Int64,
		duration_ms Nullable(Int64),
		payload String,
		metadata String,
		created_at DateTime64(3) DEFAULT now64(3)
	) ENGINE = MergeTree
	ORDER BY (ts, run_id)`,
}

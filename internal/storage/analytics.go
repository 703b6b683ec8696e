package storage

import (
	"context"
	"math"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/triage-ai/taskdb/internal/taskdb"
)

// AnalyticsReader is implemented by stores that can aggregate server-side.
type AnalyticsReader interface {
	Analytics(ctx context.Context, since time.Time) (*Analytics, error)
}

// StatusCounts counts events by status.
type StatusCounts struct {
	Total int `json:"total"`
	OK    int `json:"ok"`
	Fail  int `json:"fail"`
	Skip  int `json:"skip"`
}

// HourBucket holds run starts and run errors for one hour.
type HourBucket struct {
	Hour   string `json:"hour"`
	Runs   int    `json:"runs"`
	Errors int    `json:"errors"`
}

type KindCount struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

type ComponentCount struct {
	Component string `json:"component"`
	Failures  int    `json:"failures"`
}

// DurationStats holds duration percentiles in milliseconds over events that
// recorded one.
type DurationStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Analytics holds all aggregations for a time range.
type Analytics struct {
	Since             time.Time        `json:"since"`
	Summary           StatusCounts     `json:"summary"`
	RunsOverTime      []HourBucket     `json:"runs_over_time"`
	TopKinds          []KindCount      `json:"top_kinds"`
	FailingComponents []ComponentCount `json:"failing_components"`
	Duration          DurationStats    `json:"duration_ms"`
}

// Analytics aggregates events with ts >= since.
func (s *ClickHouseStore) Analytics(ctx context.Context, since time.Time) (*Analytics, error) {
	sinceArg := clickhouse.Named("since", since.UnixMilli())
	result := &Analytics{Since: since.UTC()}

	// Summary counts
	var total, ok, fail, skip uint64
	err := s.conn.QueryRow(ctx,
		"SELECT count(), countIf(status = 'ok'), countIf(status = 'fail'), countIf(status = 'skip') "+
			"FROM "+TableName+" WHERE ts >= @since",
		sinceArg,
	).Scan(&total, &ok, &fail, &skip)
	if err != nil {
		return nil, taskdb.NewStorageError(BackendClickHouse, "analytics summary", err)
	}
	result.Summary = StatusCounts{Total: int(total), OK: int(ok), Fail: int(fail), Skip: int(skip)}

	// Runs over time (hourly)
	hourRows, err := s.conn.Query(ctx,
		"SELECT toStartOfHour(fromUnixTimestamp64Milli(ts)) AS hour, "+
			"countIf(kind = '"+string(taskdb.KindRunStart)+"') AS runs, "+
			"countIf(kind = '"+string(taskdb.KindRunError)+"') AS errors "+
			"FROM "+TableName+" WHERE ts >= @since "+
			"GROUP BY hour ORDER BY hour",
		sinceArg,
	)
	if err != nil {
		return nil, taskdb.NewStorageError(BackendClickHouse, "analytics runs_over_time", err)
	}
	defer func() { _ = hourRows.Close() }()
	for hourRows.Next() {
		var hour time.Time
		var runs, errs uint64
		if err := hourRows.Scan(&hour, &runs, &errs); err != nil {
			return nil, taskdb.NewStorageError(BackendClickHouse, "analytics runs_over_time", err)
		}
		result.RunsOverTime = append(result.RunsOverTime, HourBucket{
			Hour:   hour.UTC().Format(time.RFC3339),
			Runs:   int(runs),
			Errors: int(errs),
		})
	}

	// Top kinds
	kindRows, err := s.conn.Query(ctx,
		"SELECT kind, count() AS count FROM "+TableName+" WHERE ts >= @since "+
			"GROUP BY kind ORDER BY count DESC LIMIT 10",
		sinceArg,
	)
	if err != nil {
		return nil, taskdb.NewStorageError(BackendClickHouse, "analytics top_kinds", err)
	}
	defer func() { _ = kindRows.Close() }()
	for kindRows.Next() {
		var kind string
		var count uint64
		if err := kindRows.Scan(&kind, &count); err != nil {
			return nil, taskdb.NewStorageError(BackendClickHouse, "analytics top_kinds", err)
		}
		result.TopKinds = append(result.TopKinds, KindCount{Kind: kind, Count: int(count)})
	}

	// Failing components
	compRows, err := s.conn.Query(ctx,
		"SELECT component, count() AS failures FROM "+TableName+" "+
			"WHERE ts >= @since AND status = 'fail' AND component != '' "+
			"GROUP BY component ORDER BY failures DESC LIMIT 10",
		sinceArg,
	)
	if err != nil {
		return nil, taskdb.NewStorageError(BackendClickHouse, "analytics failing_components", err)
	}
	defer func() { _ = compRows.Close() }()
	for compRows.Next() {
		var comp string
		var count uint64
		if err := compRows.Scan(&comp, &count); err != nil {
			return nil, taskdb.NewStorageError(BackendClickHouse, "analytics failing_components", err)
		}
		result.FailingComponents = append(result.FailingComponents, ComponentCount{Component: comp, Failures: int(count)})
	}

	// Duration percentiles
	var p50, p95, p99 float64
	err = s.conn.QueryRow(ctx,
		"SELECT quantileIf(0.5)(assumeNotNull(duration_ms), duration_ms IS NOT NULL), "+
			"quantileIf(0.95)(assumeNotNull(duration_ms), duration_ms IS NOT NULL), "+
			"quantileIf(0.99)(assumeNotNull(duration_ms), duration_ms IS NOT NULL) "+
			"FROM "+TableName+" WHERE ts >= @since",
		sinceArg,
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, taskdb.NewStorageError(BackendClickHouse, "analytics duration", err)
	}
	result.Duration = DurationStats{P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99)}

	// Ensure slices are non-nil for JSON serialization
	if result.RunsOverTime == nil {
		result.RunsOverTime = []HourBucket{}
	}
	if result.TopKinds == nil {
		result.TopKinds = []KindCount{}
	}
	if result.FailingComponents == nil {
		result.FailingComponents = []ComponentCount{}
	}
	return result, nil
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

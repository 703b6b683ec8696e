// Package storage holds the concrete taskdb.Adapter backends.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Backend names used in StorageError and logs.
const (
	BackendFile       = "file"
	BackendSQLite     = "sqlite"
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
)

// TableName is the event table shared by the SQL and ClickHouse backends.
const TableName = "taskdb_events"

// encodeJSONMap returns m as a JSON string, or nil for an empty map so the
// column stays NULL.
func encodeJSONMap(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return string(b), nil
}

func decodeJSONMap(s string) (map[string]any, error) {
	if s == "" || s == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode json column: %w", err)
	}
	return m, nil
}

// Counter is implemented by stores that can count every stored event.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

package config

import (
	"fmt"
	"strings"
)

// Driver selects the storage backend. The set is closed.
type Driver int

const (
	DriverUnspecified Driver = iota
	DriverFile               // embedded-file
	DriverSQLite             // embedded-sql
	DriverPostgres           // server-sql
	DriverClickHouse         // clickhouse
	DriverDual               // dual
)

// String returns the canonical driver name.
func (d Driver) String() string {
	switch d {
	case DriverFile:
		return "embedded-file"
	case DriverSQLite:
		return "embedded-sql"
	case DriverPostgres:
		return "server-sql"
	case DriverClickHouse:
		return "clickhouse"
	case DriverDual:
		return "dual"
	default:
		return "unspecified"
	}
}

// ParseDriver accepts canonical names and the short aliases used in
// deployment environments.
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "embedded-file", "file", "jsonl", "ndjson":
		return DriverFile, nil
	case "embedded-sql", "sqlite":
		return DriverSQLite, nil
	case "server-sql", "pg", "postgres":
		return DriverPostgres, nil
	case "clickhouse", "ch":
		return DriverClickHouse, nil
	case "dual":
		return DriverDual, nil
	default:
		return DriverUnspecified, fmt.Errorf("unknown driver %q", s)
	}
}

// UnmarshalText lets yaml and envconfig decode driver names.
func (d *Driver) UnmarshalText(text []byte) error {
	v, err := ParseDriver(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// MarshalText renders the canonical name.
func (d Driver) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Package config loads TaskDB settings from defaults, an optional YAML file
// and TASKDB_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Driver   Driver `yaml:"driver"`
	LogLevel string `yaml:"log_level" split_words:"true"`

	File       FileConfig       `yaml:"file" ignored:"true"`
	SQLite     SQLiteConfig     `yaml:"sqlite" ignored:"true"`
	Postgres   PostgresConfig   `yaml:"postgres" ignored:"true"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse" ignored:"true"`
	Dual       DualConfig       `yaml:"dual" ignored:"true"`
	Queue      QueueConfig      `yaml:"queue" ignored:"true"`
	Failover   FailoverConfig   `yaml:"failover" ignored:"true"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" ignored:"true"`
	Server     ServerConfig     `yaml:"server" ignored:"true"`
}

type FileConfig struct {
	Pattern string `yaml:"pattern"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns" split_words:"true"`
	MaxIdleConns           int    `yaml:"max_idle_conns" split_words:"true"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_s" split_words:"true"`
}

type ClickHouseConfig struct {
	DSN string `yaml:"dsn"`
}

// DualConfig names the two backends of the dual driver. Neither may be dual.
type DualConfig struct {
	Primary     Driver `yaml:"primary"`
	Secondary   Driver `yaml:"secondary"`
	Strict      bool   `yaml:"strict"`
	LogMismatch bool   `yaml:"log_mismatch" split_words:"true"`
}

type QueueConfig struct {
	Enabled         bool `yaml:"enabled"`
	MaxBatch        int  `yaml:"max_batch" split_words:"true"`
	MaxQueue        int  `yaml:"max_queue" split_words:"true"`
	FlushIntervalMs int  `yaml:"flush_interval_ms" split_words:"true"`
}

// FlushInterval returns FlushIntervalMs as a duration.
func (q QueueConfig) FlushInterval() time.Duration {
	return time.Duration(q.FlushIntervalMs) * time.Millisecond
}

type FailoverConfig struct {
	Enabled         bool   `yaml:"enabled"`
	FallbackPattern string `yaml:"fallback_pattern" split_words:"true"`
	MaxFailures     int    `yaml:"max_failures" split_words:"true"`
	// ProbeSchedule is a cron spec for the recovery probe run by the server.
	ProbeSchedule string `yaml:"probe_schedule" split_words:"true"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name" split_words:"true"`
	// MetricIntervalSeconds is the push interval of the metric exporter.
	MetricIntervalSeconds int `yaml:"metric_interval_s" split_words:"true"`
}

type ServerConfig struct {
	HTTPAddr   string `yaml:"http_addr" split_words:"true"`
	GRPCAddr   string `yaml:"grpc_addr" split_words:"true"`
	APIKeyHash string `yaml:"api_key_hash" split_words:"true"`
	// AuthCacheTTLSeconds bounds how long a verified API key skips bcrypt.
	AuthCacheTTLSeconds int `yaml:"auth_cache_ttl_s" split_words:"true"`
}

// Default returns the built-in configuration: a queued SQLite store.
func Default() Config {
	return Config{
		Driver:   DriverSQLite,
		LogLevel: "info",
		File:     FileConfig{Pattern: "./logs/taskdb-%Y-%m-%d.jsonl"},
		SQLite:   SQLiteConfig{Path: "./data/taskdb.db"},
		Postgres: PostgresConfig{
			MaxOpenConns:           10,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
		},
		Dual: DualConfig{
			Primary:     DriverPostgres,
			Secondary:   DriverSQLite,
			LogMismatch: true,
		},
		Queue: QueueConfig{
			Enabled:         true,
			MaxBatch:        100,
			MaxQueue:        50_000,
			FlushIntervalMs: 250,
		},
		Failover: FailoverConfig{
			FallbackPattern: "./logs/taskdb-fallback-%Y-%m-%d.jsonl",
			MaxFailures:     3,
			ProbeSchedule:   "@every 30s",
		},
		Telemetry: TelemetryConfig{
			Exporter:              "none",
			ServiceName:           "taskdb",
			MetricIntervalSeconds: 15,
		},
		Server: ServerConfig{
			HTTPAddr:            ":8080",
			GRPCAddr:            ":9090",
			AuthCacheTTLSeconds: 30,
		},
	}
}

// Load builds the configuration. path may be empty; a missing file is an error
// only when path was given explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("Load: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("Load: parse %s: %w", path, err)
		}
	}

	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays TASKDB_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	sections := []struct {
		prefix string
		spec   any
	}{
		{"TASKDB", cfg},
		{"TASKDB_FILE", &cfg.File},
		{"TASKDB_SQLITE", &cfg.SQLite},
		{"TASKDB_PG", &cfg.Postgres},
		{"TASKDB_CLICKHOUSE", &cfg.ClickHouse},
		{"TASKDB_DUAL", &cfg.Dual},
		{"TASKDB_QUEUE", &cfg.Queue},
		{"TASKDB_FAILOVER", &cfg.Failover},
		{"TASKDB_OTEL", &cfg.Telemetry},
		{"TASKDB_SERVER", &cfg.Server},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.spec); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that the selected driver has what it needs.
func (c Config) Validate() error {
	var errs []error

	check := func(d Driver) {
		switch d {
		case DriverFile:
			if c.File.Pattern == "" {
				errs = append(errs, errors.New("file.pattern is required for embedded-file"))
			}
		case DriverSQLite:
			if c.SQLite.Path == "" {
				errs = append(errs, errors.New("sqlite.path is required for embedded-sql"))
			}
		case DriverPostgres:
			if c.Postgres.URL == "" {
				errs = append(errs, errors.New("postgres.url is required for server-sql"))
			}
		case DriverClickHouse:
			if c.ClickHouse.DSN == "" {
				errs = append(errs, errors.New("clickhouse.dsn is required for clickhouse"))
			}
		default:
			errs = append(errs, fmt.Errorf("driver %s cannot be used here", d))
		}
	}

	switch c.Driver {
	case DriverDual:
		if c.Dual.Primary == DriverDual || c.Dual.Secondary == DriverDual {
			errs = append(errs, errors.New("dual backends cannot themselves be dual"))
		} else {
			check(c.Dual.Primary)
			check(c.Dual.Secondary)
		}
		if c.Failover.Enabled {
			errs = append(errs, errors.New("failover cannot wrap the dual driver"))
		}
	case DriverUnspecified:
		errs = append(errs, errors.New("driver is required"))
	default:
		check(c.Driver)
	}

	if c.Failover.Enabled {
		if c.Driver == DriverFile {
			errs = append(errs, errors.New("failover needs a non-file primary"))
		}
		if c.Failover.FallbackPattern == "" {
			errs = append(errs, errors.New("failover.fallback_pattern is required"))
		}
	}
	if c.Queue.MaxBatch < 0 || c.Queue.MaxQueue < 0 || c.Queue.FlushIntervalMs < 0 {
		errs = append(errs, errors.New("queue sizes must not be negative"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Package factory assembles the adapter chain described by a config.Config.
// There is no process-wide instance; callers own the returned Chain.
package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/triage-ai/taskdb/internal/config"
	"github.com/triage-ai/taskdb/internal/dualwrite"
	"github.com/triage-ai/taskdb/internal/failover"
	"github.com/triage-ai/taskdb/internal/queue"
	"github.com/triage-ai/taskdb/internal/storage"
	"github.com/triage-ai/taskdb/internal/taskdb"
	"github.com/triage-ai/taskdb/internal/telemetry"
	"go.uber.org/zap"
)

// Options carries optional collaborators.
type Options struct {
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	// OnTransition is called after the metrics hook on every failover state change.
	OnTransition func(from, to failover.State)
}

// Chain is the built adapter stack. Adapter is the outermost layer; the typed
// handles are nil when the layer is not configured.
type Chain struct {
	Driver   config.Driver
	Adapter  taskdb.Adapter
	Queue    *queue.Queue
	Dual     *dualwrite.Verifier
	Failover *failover.Controller
	// Analytics is set when the (primary) backend aggregates server-side.
	Analytics storage.AnalyticsReader
}

// Status summarises every configured layer.
type Status struct {
	Driver   config.Driver    `json:"driver"`
	Queue    *queue.Stats     `json:"queue,omitempty"`
	Failover *failover.Status `json:"failover,omitempty"`
	Dual     *dualwrite.Stats `json:"dual,omitempty"`
}

// Build opens the configured backends and wraps them as
// Queue ⊃ (Dual | Failover) ⊃ backend.
func Build(ctx context.Context, cfg config.Config, opts Options) (*Chain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ch := &Chain{Driver: cfg.Driver}
	var core taskdb.Adapter

	switch cfg.Driver {
	case config.DriverDual:
		primary, err := OpenBackend(ctx, cfg, cfg.Dual.Primary, logger)
		if err != nil {
			return nil, fmt.Errorf("Build: dual primary: %w", err)
		}
		secondary, err := OpenBackend(ctx, cfg, cfg.Dual.Secondary, logger)
		if err != nil {
			_ = primary.Close()
			return nil, fmt.Errorf("Build: dual secondary: %w", err)
		}
		dopts := dualwrite.Options{
			Strict:      cfg.Dual.Strict,
			LogMismatch: cfg.Dual.LogMismatch,
		}
		if opts.Metrics != nil {
			dopts.OnMismatch = opts.Metrics.OnMismatch
		}
		ch.Analytics, _ = primary.(storage.AnalyticsReader)
		ch.Dual = dualwrite.New(primary, secondary, dopts, logger.Named("dualwrite"))
		core = ch.Dual

	default:
		backend, err := OpenBackend(ctx, cfg, cfg.Driver, logger)
		if err != nil {
			return nil, fmt.Errorf("Build: %w", err)
		}
		core = backend
		ch.Analytics, _ = backend.(storage.AnalyticsReader)

		if cfg.Failover.Enabled {
			fallback, err := storage.NewFileStore(cfg.Failover.FallbackPattern, logger.Named("fallback"))
			if err != nil {
				_ = backend.Close()
				return nil, fmt.Errorf("Build: fallback: %w", err)
			}
			fopts := failover.Options{
				MaxFailures:  cfg.Failover.MaxFailures,
				OnTransition: transitionHook(opts),
			}
			ch.Failover = failover.New(backend, fallback, fopts, logger.Named("failover"))
			core = ch.Failover
		}
	}

	ch.Adapter = core
	if cfg.Queue.Enabled {
		qcfg := queue.Config{
			MaxBatch:      cfg.Queue.MaxBatch,
			MaxQueue:      cfg.Queue.MaxQueue,
			FlushInterval: cfg.Queue.FlushInterval(),
		}
		if opts.Metrics != nil {
			qcfg.Hooks = opts.Metrics.QueueHooks()
		}
		ch.Queue = queue.New(core, qcfg, logger.Named("queue"))
		ch.Adapter = ch.Queue
	}

	logger.Info("taskdb chain ready",
		zap.String("driver", cfg.Driver.String()),
		zap.Bool("queue", ch.Queue != nil),
		zap.Bool("failover", ch.Failover != nil),
	)
	return ch, nil
}

func transitionHook(opts Options) func(from, to failover.State) {
	var hooks []func(from, to failover.State)
	if opts.Metrics != nil {
		hooks = append(hooks, opts.Metrics.OnTransition)
	}
	if opts.OnTransition != nil {
		hooks = append(hooks, opts.OnTransition)
	}
	if len(hooks) == 0 {
		return nil
	}
	return func(from, to failover.State) {
		for _, h := range hooks {
			h(from, to)
		}
	}
}

// OpenBackend opens one concrete storage backend. d must not be DriverDual.
func OpenBackend(ctx context.Context, cfg config.Config, d config.Driver, logger *zap.Logger) (taskdb.Adapter, error) {
	switch d {
	case config.DriverFile:
		return storage.NewFileStore(cfg.File.Pattern, logger.Named("file"))
	case config.DriverSQLite:
		if cfg.SQLite.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
				return nil, taskdb.NewStorageError(storage.BackendSQLite, "init", err)
			}
		}
		return storage.OpenSQLite(ctx, cfg.SQLite.Path, logger.Named("sqlite"))
	case config.DriverPostgres:
		pool := storage.PoolConfig{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Postgres.ConnMaxLifetimeSeconds) * time.Second,
		}
		return storage.OpenPostgres(ctx, cfg.Postgres.URL, pool, logger.Named("postgres"))
	case config.DriverClickHouse:
		return storage.NewClickHouseStore(ctx, cfg.ClickHouse.DSN, logger.Named("clickhouse"))
	default:
		return nil, fmt.Errorf("OpenBackend: unsupported driver %s", d)
	}
}

// Status reports the state of each configured layer.
func (c *Chain) Status() Status {
	st := Status{Driver: c.Driver}
	if c.Queue != nil {
		qs := c.Queue.Stats()
		st.Queue = &qs
	}
	if c.Failover != nil {
		fs := c.Failover.Status()
		st.Failover = &fs
	}
	if c.Dual != nil {
		ds := c.Dual.Stats()
		st.Dual = &ds
	}
	return st
}

// Flush drains the queue, if there is one.
func (c *Chain) Flush(ctx context.Context) error {
	if c.Queue == nil {
		return nil
	}
	return c.Queue.Flush(ctx)
}

// Close closes the outermost layer, which closes everything beneath it.
func (c *Chain) Close() error {
	return c.Adapter.Close()
}

// Package migrate backfills NDJSON event files, typically those written by the
// failover fallback, into a server-backed adapter.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/triage-ai/taskdb/internal/storage"
	"github.com/triage-ai/taskdb/internal/taskdb"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of events per BulkInsert.
const DefaultBatchSize = 1000

// Job copies events from NDJSON files into Target.
type Job struct {
	Target    taskdb.Adapter
	BatchSize int
	Logger    *zap.Logger
}

// Report summarises a run. Total counts every non-blank line read.
type Report struct {
	Files         int `json:"files"`
	Total         int `json:"total"`
	Migrated      int `json:"migrated"`
	Skipped       int `json:"skipped"`
	FailedBatches int `json:"failed_batches"`
}

// ResolveFiles returns paths when any are given, otherwise every day file
// matching pattern, oldest first.
func ResolveFiles(paths []string, pattern string) ([]string, error) {
	if len(paths) > 0 {
		return paths, nil
	}
	matches, err := filepath.Glob(storage.PatternGlob(pattern))
	if err != nil {
		return nil, fmt.Errorf("ResolveFiles: %w", err)
	}
	slices.Sort(matches)
	return matches, nil
}

// Run migrates files in order. Malformed lines are skipped and counted; a
// failed batch is logged and counted, and Run continues with the next one.
// The returned error is non-nil when ctx ends or any batch failed.
func (j *Job) Run(ctx context.Context, files []string) (Report, error) {
	logger := j.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := j.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	var rep Report
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := j.migrateFile(ctx, path, size, &rep, logger); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logger.Warn("migration file not found", zap.String("path", path))
				continue
			}
			return rep, err
		}
		rep.Files++
	}

	logger.Info("migration completed",
		zap.Int("files", rep.Files),
		zap.Int("total", rep.Total),
		zap.Int("migrated", rep.Migrated),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed_batches", rep.FailedBatches),
	)
	if rep.FailedBatches > 0 {
		return rep, fmt.Errorf("migrate: %d batches failed", rep.FailedBatches)
	}
	return rep, nil
}

func (j *Job) migrateFile(ctx context.Context, path string, size int, rep *Report, logger *zap.Logger) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()

	logger.Info("migrating file", zap.String("path", path))
	batch := make([]taskdb.Event, 0, size)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := j.Target.BulkInsert(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return err
			}
			rep.FailedBatches++
			logger.Error("batch failed",
				zap.String("path", path),
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
		} else {
			rep.Migrated += len(batch)
		}
		batch = batch[:0]
		return nil
	}

	err = storage.EachLine(fh, func(line int, raw []byte) error {
		rep.Total++
		ev, err := taskdb.ParseEvent(raw)
		if err != nil {
			rep.Skipped++
			logger.Warn("skipping malformed line",
				zap.String("path", path),
				zap.Int("line", line),
				zap.Error(err),
			)
			return nil
		}
		// Ids are assigned by the target store.
		ev.ID = ""
		batch = append(batch, ev)
		if len(batch) == size {
			return flush()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return flush()
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/taskdb/internal/taskdb"
	"go.uber.org/zap"
)

// DefaultFilePattern is the NDJSON path pattern used when none is configured.
const DefaultFilePattern = "./logs/taskdb-%Y-%m-%d.jsonl"

// FileStore appends events as NDJSON, one file per UTC day.
//
// Writes are best-effort and line by line: when BulkInsert fails part way the
// lines already written stay on disk, so a retried batch is delivered at least
// once, never exactly once. Every record gets a UUID id.
type FileStore struct {
	pattern string
	now     func() time.Time
	logger  *zap.Logger

	mu   sync.Mutex
	path string
	f    *os.File
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithClock overrides the clock that picks the day file.
func WithClock(now func() time.Time) FileOption {
	return func(s *FileStore) { s.now = now }
}

// NewFileStore creates today's directory for pattern and returns a store writing to it.
// Pattern placeholders %Y, %m and %d expand to the UTC date of the write.
func NewFileStore(pattern string, logger *zap.Logger, opts ...FileOption) (*FileStore, error) {
	if pattern == "" {
		pattern = DefaultFilePattern
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FileStore{pattern: pattern, now: time.Now, logger: logger}
	for _, o := range opts {
		o(s)
	}
	if err := os.MkdirAll(filepath.Dir(s.PathFor(s.now())), 0o755); err != nil {
		return nil, taskdb.NewStorageError(BackendFile, "init", err)
	}
	return s, nil
}

// Pattern returns the configured path pattern.
func (s *FileStore) Pattern() string {
	return s.pattern
}

// PathFor returns the file that receives writes made at t.
func (s *FileStore) PathFor(t time.Time) string {
	return PatternPath(s.pattern, t)
}

// Glob returns the glob matching every day file of the pattern.
func (s *FileStore) Glob() string {
	return PatternGlob(s.pattern)
}

// PatternPath expands the date placeholders of pattern for the UTC day of t.
func PatternPath(pattern string, t time.Time) string {
	t = t.UTC()
	return strings.NewReplacer(
		"%Y", t.Format("2006"),
		"%m", t.Format("01"),
		"%d", t.Format("02"),
	).Replace(pattern)
}

// PatternGlob turns pattern into a filepath.Glob expression for all its days.
func PatternGlob(pattern string) string {
	return strings.NewReplacer(
		"%Y", "[0-9][0-9][0-9][0-9]",
		"%m", "[0-9][0-9]",
		"%d", "[0-9][0-9]",
	).Replace(pattern)
}

func (s *FileStore) Insert(ctx context.Context, ev taskdb.Event) error {
	return s.BulkInsert(ctx, []taskdb.Event{ev})
}

func (s *FileStore) BulkInsert(ctx context.Context, evs []taskdb.Event) error {
	if err := taskdb.ValidateAll(evs); err != nil {
		return err
	}
	if len(evs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fileLocked()
	if err != nil {
		return taskdb.NewStorageError(BackendFile, "open", err)
	}
	for _, ev := range evs {
		if err := ctx.Err(); err != nil {
			return taskdb.NewStorageError(BackendFile, "insert", err)
		}
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		line, err := json.Marshal(ev)
		if err != nil {
			return taskdb.NewStorageError(BackendFile, "encode", err)
		}
		line = append(line, '\n')
		if _, err := f.Write(line); err != nil {
			return taskdb.NewStorageError(BackendFile, "insert", err)
		}
	}
	return nil
}

// fileLocked returns the handle for today's file, rotating at UTC midnight.
func (s *FileStore) fileLocked() (*os.File, error) {
	path := s.PathFor(s.now())
	if s.f != nil && s.path == path {
		return s.f, nil
	}
	if s.f != nil {
		_ = s.f.Close()
		s.f = nil
	}
	// Placeholders may sit in the directory part, so each day may need a new one.
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	s.f, s.path = f, path
	return f, nil
}

// Query scans every day file of the pattern. Malformed lines are skipped.
func (s *FileStore) Query(ctx context.Context, f taskdb.Filter, limit int) ([]taskdb.Event, error) {
	paths, err := filepath.Glob(s.Glob())
	if err != nil {
		return nil, taskdb.NewStorageError(BackendFile, "query", err)
	}
	slices.Sort(paths)

	var matched []taskdb.Event
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, taskdb.NewStorageError(BackendFile, "query", err)
		}
		evs, err := s.readFile(p, f)
		if err != nil {
			return nil, taskdb.NewStorageError(BackendFile, "query", err)
		}
		matched = append(matched, evs...)
	}

	// Latest line first so that equal timestamps list the newest write first.
	slices.Reverse(matched)
	taskdb.SortNewestFirst(matched)
	if limit = taskdb.NormalizeLimit(limit); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *FileStore) readFile(path string, f taskdb.Filter) ([]taskdb.Event, error) {
	fh, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer fh.Close()

	var out []taskdb.Event
	skipped := 0
	err = EachLine(fh, func(_ int, line []byte) error {
		var ev taskdb.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			skipped++
			return nil
		}
		if f.Match(ev) {
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if skipped > 0 {
		s.logger.Warn("skipped malformed ndjson lines",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return out, nil
}

// Count returns the number of readable events across every day file.
func (s *FileStore) Count(ctx context.Context) (int64, error) {
	paths, err := filepath.Glob(s.Glob())
	if err != nil {
		return 0, taskdb.NewStorageError(BackendFile, "count", err)
	}
	var n int64
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return 0, taskdb.NewStorageError(BackendFile, "count", err)
		}
		evs, err := s.readFile(p, taskdb.Filter{})
		if err != nil {
			return 0, taskdb.NewStorageError(BackendFile, "count", err)
		}
		n += int64(len(evs))
	}
	return n, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/triage-ai/taskdb/internal/storage"
	"github.com/triage-ai/taskdb/internal/taskdb"
	"go.uber.org/zap"
)

// tailPollInterval re-checks the day file even without fs events, which also
// picks up the midnight rotation.
const tailPollInterval = time.Second

func newTailCmd(root *rootOptions) *cobra.Command {
	var (
		pattern   string
		fromStart bool
		ff        filterFlags
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow today's NDJSON event file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if pattern == "" {
				pattern = cfg.File.Pattern
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			f := ff.filter()
			out := cmd.OutOrStdout()
			fl := &follower{
				pattern:   pattern,
				fromStart: fromStart,
				now:       time.Now,
				logger:    logger,
				emit: func(ev taskdb.Event) {
					if f.Match(ev) {
						printEvent(out, ev)
					}
				},
			}
			return fl.run(ctx)
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", "", "file pattern (default file.pattern)")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "print the existing content of today's file first")
	ff.register(cmd, -1)
	return cmd
}

// follower streams complete lines appended to the current day file.
type follower struct {
	pattern   string
	fromStart bool
	now       func() time.Time
	logger    *zap.Logger
	emit      func(taskdb.Event)
	ready     func()

	dir    string
	path   string
	offset int64
}

func (f *follower) run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	f.path = storage.PatternPath(f.pattern, f.now())
	if err := f.watch(w); err != nil {
		return err
	}
	if !f.fromStart {
		if st, err := os.Stat(f.path); err == nil {
			f.offset = st.Size()
		}
	}
	f.drain()
	if f.ready != nil {
		f.ready()
	}

	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			f.rotate(w)
			if filepath.Clean(ev.Name) == filepath.Clean(f.path) {
				f.drain()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("tail watcher error", zap.Error(err))
		case <-ticker.C:
			f.rotate(w)
			f.drain()
		}
	}
}

// watch points the watcher at the directory of the current path. Patterns
// may carry date placeholders in the directory part, so this moves with the day.
func (f *follower) watch(w *fsnotify.Watcher) error {
	dir := filepath.Dir(f.path)
	if dir == f.dir {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		return err
	}
	if f.dir != "" {
		_ = w.Remove(f.dir)
	}
	f.dir = dir
	return nil
}

// rotate switches to a new day file from its beginning.
func (f *follower) rotate(w *fsnotify.Watcher) {
	p := storage.PatternPath(f.pattern, f.now())
	if p == f.path {
		return
	}
	f.path = p
	f.offset = 0
	if err := f.watch(w); err != nil {
		// The poll ticker still picks the file up.
		f.logger.Warn("tail watch failed", zap.String("path", p), zap.Error(err))
	}
}

// drain emits every complete line after the current offset.
func (f *follower) drain() {
	fh, err := os.Open(f.path)
	if err != nil {
		return
	}
	defer fh.Close()

	if st, err := fh.Stat(); err == nil && st.Size() < f.offset {
		// Truncated; start over.
		f.offset = 0
	}
	if _, err := fh.Seek(f.offset, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(fh)
	if err != nil {
		f.logger.Warn("tail read failed", zap.String("path", f.path), zap.Error(err))
		return
	}
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return
	}
	f.offset += int64(end + 1)

	for _, line := range bytes.Split(data[:end], []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var ev taskdb.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			f.logger.Warn("skipping malformed line", zap.String("path", f.path), zap.Error(err))
			continue
		}
		f.emit(ev)
	}
}

// Package queue buffers writes in front of a taskdb.Adapter and flushes them
// in batches from a background goroutine.
package queue

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/triage-ai/taskdb/internal/taskdb"
	"go.uber.org/zap"
)

const (
	DefaultMaxBatch      = 100
	DefaultMaxQueue      = 50_000
	DefaultFlushInterval = 250 * time.Millisecond
	drainTimeout         = 2 * time.Second
)

// ErrClosed is returned for writes after Close.
var ErrClosed = errors.New("queue closed")

// Hooks observe the queue. Every field is optional and called without locks held.
type Hooks struct {
	OnEnqueue    func(n, depth int)
	OnFlushStart func(depth int)
	OnFlushBatch func(took time.Duration, size, remaining int)
	OnFlushIdle  func(depth int)
	OnEvict      func(n int)
}

// Config sizes the queue. Zero values take the package defaults.
type Config struct {
	MaxBatch      int
	MaxQueue      int
	FlushInterval time.Duration
	Hooks         Hooks
}

// Stats is a snapshot of the queue counters.
type Stats struct {
	Depth    int    `json:"depth"`
	Enqueued uint64 `json:"enqueued"`
	Flushed  uint64 `json:"flushed"`
	Failed   uint64 `json:"failed"`
	Evicted  uint64 `json:"evicted"`
}

// flushRun is one in-flight drain; waiters read err after done is closed.
type flushRun struct {
	done chan struct{}
	err  error
}

// Queue is a taskdb.Adapter that accepts writes into a bounded buffer and
// never blocks producers. When the buffer is full the oldest events are
// evicted. Query flushes first, so reads observe earlier writes.
//
// A batch the inner adapter rejects is logged, counted in Stats.Failed and
// dropped; the drain carries on with the next batch.
type Queue struct {
	inner  taskdb.Adapter
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	buf     []taskdb.Event
	running *flushRun
	closed  bool

	enqueued atomic.Uint64
	flushed  atomic.Uint64
	failed   atomic.Uint64
	evicted  atomic.Uint64

	done      chan struct{}
	stopped   chan struct{} // closed by flushLoop when it returns
	closeOnce sync.Once
}

// New wraps inner and starts the background flush loop.
func New(inner taskdb.Adapter, cfg Config, logger *zap.Logger) *Queue {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = DefaultMaxQueue
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &Queue{
		inner:   inner,
		cfg:     cfg,
		logger:  logger,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go q.flushLoop()
	return q
}

func (q *Queue) Insert(ctx context.Context, ev taskdb.Event) error {
	if err := taskdb.Validate(ev); err != nil {
		return err
	}
	return q.enqueue([]taskdb.Event{ev})
}

func (q *Queue) BulkInsert(ctx context.Context, evs []taskdb.Event) error {
	if err := taskdb.ValidateAll(evs); err != nil {
		return err
	}
	if len(evs) == 0 {
		return nil
	}
	return q.enqueue(evs)
}

func (q *Queue) enqueue(evs []taskdb.Event) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return taskdb.NewStorageError("queue", "insert", ErrClosed)
	}
	q.buf = append(q.buf, evs...)
	evicted := 0
	if over := len(q.buf) - q.cfg.MaxQueue; over > 0 {
		clear(q.buf[:over])
		q.buf = q.buf[over:]
		evicted = over
	}
	depth := len(q.buf)
	q.mu.Unlock()

	q.enqueued.Add(uint64(len(evs)))
	if evicted > 0 {
		q.evicted.Add(uint64(evicted))
		q.logger.Warn("queue full, evicted oldest events",
			zap.Int("evicted", evicted),
			zap.Int("max_queue", q.cfg.MaxQueue),
		)
		if q.cfg.Hooks.OnEvict != nil {
			q.cfg.Hooks.OnEvict(evicted)
		}
	}
	if q.cfg.Hooks.OnEnqueue != nil {
		q.cfg.Hooks.OnEnqueue(len(evs), depth)
	}
	return nil
}

// Query flushes the buffer and then reads from the inner adapter. A flush
// failure is logged and the read still happens.
func (q *Queue) Query(ctx context.Context, f taskdb.Filter, limit int) ([]taskdb.Event, error) {
	if err := q.Flush(ctx); err != nil {
		q.logger.Warn("flush before query failed", zap.Error(err))
	}
	return q.inner.Query(ctx, f, limit)
}

// Flush drains the buffer in batches of at most MaxBatch. If a drain is
// already running, Flush waits for it instead of starting another.
// Cancelling ctx stops the drain between batches; buffered events are kept.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if run := q.running; run != nil {
		q.mu.Unlock()
		select {
		case <-run.done:
			return run.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	run := &flushRun{done: make(chan struct{})}
	q.running = run
	depth := len(q.buf)
	q.mu.Unlock()

	if q.cfg.Hooks.OnFlushStart != nil {
		q.cfg.Hooks.OnFlushStart(depth)
	}
	run.err = q.drain(ctx)

	q.mu.Lock()
	q.running = nil
	depth = len(q.buf)
	q.mu.Unlock()
	close(run.done)

	if q.cfg.Hooks.OnFlushIdle != nil {
		q.cfg.Hooks.OnFlushIdle(depth)
	}
	return run.err
}

func (q *Queue) drain(ctx context.Context) error {
	// Batches already taken must reach the backend even if the caller gives up.
	writeCtx := context.WithoutCancel(ctx)
	var errs []error
	for {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			return errors.Join(errs...)
		}

		q.mu.Lock()
		n := min(len(q.buf), q.cfg.MaxBatch)
		if n == 0 {
			q.mu.Unlock()
			return errors.Join(errs...)
		}
		batch := slices.Clone(q.buf[:n])
		clear(q.buf[:n])
		q.buf = q.buf[n:]
		remaining := len(q.buf)
		q.mu.Unlock()

		start := time.Now()
		err := q.inner.BulkInsert(writeCtx, batch)
		took := time.Since(start)
		if err != nil {
			q.failed.Add(uint64(n))
			q.logger.Error("queue batch flush failed",
				zap.Int("batch_size", n),
				zap.Int("remaining", remaining),
				zap.Error(err),
			)
			errs = append(errs, err)
		} else {
			q.flushed.Add(uint64(n))
		}
		if q.cfg.Hooks.OnFlushBatch != nil {
			q.cfg.Hooks.OnFlushBatch(took, n, remaining)
		}
	}
}

func (q *Queue) flushLoop() {
	defer close(q.stopped)

	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if q.Depth() > 0 {
				_ = q.Flush(context.Background()) // failures are logged per batch
			}
		case <-q.done:
			return
		}
	}
}

// Depth returns the number of buffered events.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Depth:    q.Depth(),
		Enqueued: q.enqueued.Load(),
		Flushed:  q.flushed.Load(),
		Failed:   q.failed.Load(),
		Evicted:  q.evicted.Load(),
	}
}

// Close stops the flush loop, drains what is buffered (up to drainTimeout)
// and closes the inner adapter. Safe to call more than once.
func (q *Queue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.done)
		<-q.stopped

		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()

		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if ferr := q.Flush(drainCtx); ferr != nil {
			q.logger.Error("queue drain on close failed",
				zap.Int("dropped", q.Depth()),
				zap.Error(ferr),
			)
		}
		err = q.inner.Close()
	})
	return err
}

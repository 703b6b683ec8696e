// Package failover routes writes to a fallback store after repeated primary
// failures and back again only after an explicit recovery probe.
package failover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/triage-ai/taskdb/internal/taskdb"
	"go.uber.org/zap"
)

// DefaultMaxFailures is the consecutive primary failures that trigger failover.
const DefaultMaxFailures = 3

// State is the write routing state of a Controller.
type State int

const (
	StatePrimaryActive State = iota + 1
	StateFallbackActive
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StatePrimaryActive:
		return "primary_active"
	case StateFallbackActive:
		return "fallback_active"
	default:
		return "unspecified"
	}
}

// MarshalText renders the state name in JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "primary_active":
		*s = StatePrimaryActive
	case "fallback_active":
		*s = StateFallbackActive
	default:
		return fmt.Errorf("unknown failover state %q", b)
	}
	return nil
}

// Options tunes a Controller.
type Options struct {
	MaxFailures  int
	OnTransition func(from, to State)
}

// Status is a snapshot of the controller.
type Status struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Since               time.Time `json:"since"`
	LastError           string    `json:"last_error,omitempty"`
}

// Controller is a taskdb.Adapter over a primary and a fallback.
//
// While the primary is active, every write goes to it; a failed write is
// redirected to the fallback and counted, a successful one resets the count.
// MaxFailures consecutive failures switch all reads and writes to the
// fallback until AttemptRecovery succeeds. Events written to the fallback are
// not copied back; use the migrate job for that.
type Controller struct {
	primary  taskdb.Adapter
	fallback taskdb.Adapter
	opts     Options
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	since    time.Time
	lastErr  error
}

// New returns a Controller in the primary-active state.
func New(primary, fallback taskdb.Adapter, opts Options, logger *zap.Logger) *Controller {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		primary:  primary,
		fallback: fallback,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		state:    StatePrimaryActive,
		since:    time.Now(),
	}
}

func (c *Controller) Insert(ctx context.Context, ev taskdb.Event) error {
	if err := taskdb.Validate(ev); err != nil {
		return err
	}
	return c.write("insert", 1, func(a taskdb.Adapter) error {
		return a.Insert(ctx, ev)
	})
}

func (c *Controller) BulkInsert(ctx context.Context, evs []taskdb.Event) error {
	if err := taskdb.ValidateAll(evs); err != nil {
		return err
	}
	return c.write("bulk_insert", len(evs), func(a taskdb.Adapter) error {
		return a.BulkInsert(ctx, evs)
	})
}

func (c *Controller) write(op string, n int, call func(taskdb.Adapter) error) error {
	if c.IsUsingFallback() {
		return call(c.fallback)
	}

	err := call(c.primary)
	if err == nil {
		c.recordSuccess()
		return nil
	}
	if taskdb.IsValidation(err) {
		return err
	}
	c.recordFailure(err)

	if ferr := call(c.fallback); ferr != nil {
		c.logger.Error("fallback write failed",
			zap.String("op", op),
			zap.Int("events", n),
			zap.NamedError("primary_error", err),
			zap.Error(ferr),
		)
		return ferr
	}
	return nil
}

func (c *Controller) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePrimaryActive {
		c.failures = 0
	}
}

func (c *Controller) recordFailure(err error) {
	c.mu.Lock()
	c.lastErr = err
	if c.state != StatePrimaryActive {
		c.mu.Unlock()
		return
	}
	c.failures++
	failures := c.failures
	tripped := failures >= c.opts.MaxFailures
	if tripped {
		c.state = StateFallbackActive
		c.since = c.now()
	}
	c.mu.Unlock()

	if !tripped {
		c.logger.Warn("primary write failed, wrote to fallback",
			zap.Int("consecutive_failures", failures),
			zap.Error(err),
		)
		return
	}
	c.logger.Warn("primary failing, switching to fallback",
		zap.Int("consecutive_failures", failures),
		zap.Int("max_failures", c.opts.MaxFailures),
		zap.Error(err),
	)
	if c.opts.OnTransition != nil {
		c.opts.OnTransition(StatePrimaryActive, StateFallbackActive)
	}
}

// AttemptRecovery probes the primary with a one-row read and switches back to
// it if the probe succeeds. It reports whether the primary is active afterwards.
func (c *Controller) AttemptRecovery(ctx context.Context) bool {
	if !c.IsUsingFallback() {
		return true
	}
	if _, err := c.primary.Query(ctx, taskdb.Filter{}, 1); err != nil {
		c.logger.Info("primary recovery probe failed", zap.Error(err))
		return false
	}

	c.mu.Lock()
	switched := c.state == StateFallbackActive
	c.state = StatePrimaryActive
	c.failures = 0
	c.lastErr = nil
	if switched {
		c.since = c.now()
	}
	c.mu.Unlock()

	if switched {
		c.logger.Info("primary recovered, switching back from fallback")
		if c.opts.OnTransition != nil {
			c.opts.OnTransition(StateFallbackActive, StatePrimaryActive)
		}
	}
	return true
}

// Query reads from the fallback while it is active. Otherwise it reads the
// primary and, if that fails, the fallback, without changing write state.
func (c *Controller) Query(ctx context.Context, f taskdb.Filter, limit int) ([]taskdb.Event, error) {
	if c.IsUsingFallback() {
		return c.fallback.Query(ctx, f, limit)
	}
	evs, err := c.primary.Query(ctx, f, limit)
	if err == nil {
		return evs, nil
	}
	c.logger.Warn("primary query failed, reading fallback", zap.Error(err))
	return c.fallback.Query(ctx, f, limit)
}

// IsUsingFallback reports whether writes currently go to the fallback.
func (c *Controller) IsUsingFallback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateFallbackActive
}

// Status returns the current state and failure count.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:               c.state,
		ConsecutiveFailures: c.failures,
		Since:               c.since,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Primary returns the primary backend.
func (c *Controller) Primary() taskdb.Adapter { return c.primary }

// Fallback returns the fallback backend.
func (c *Controller) Fallback() taskdb.Adapter { return c.fallback }

func (c *Controller) Close() error {
	return errors.Join(c.primary.Close(), c.fallback.Close())
}

package server

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/triage-ai/taskdb/internal/failover"
	"go.uber.org/zap"
)

// DefaultProbeSchedule runs the recovery probe twice a minute.
const DefaultProbeSchedule = "@every 30s"

const probeTimeout = 10 * time.Second

// scheduleParser accepts standard 5-field expressions and descriptors such as @every.
var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Prober periodically asks the failover controller to switch back to the primary.
type Prober struct {
	fc     *failover.Controller
	health *HealthReporter
	logger *zap.Logger
	cron   *cron.Cron
}

// NewProber validates schedule and returns a stopped prober. health may be nil.
func NewProber(fc *failover.Controller, health *HealthReporter, schedule string, logger *zap.Logger) (*Prober, error) {
	if schedule == "" {
		schedule = DefaultProbeSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Prober{
		fc:     fc,
		health: health,
		logger: logger,
		cron: cron.New(
			cron.WithParser(scheduleParser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}
	if _, err := p.cron.AddFunc(schedule, func() { p.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("NewProber: schedule %q: %w", schedule, err)
	}
	return p, nil
}

// RunOnce probes the primary if the fallback is active and reports whether the
// primary is active afterwards.
func (p *Prober) RunOnce(ctx context.Context) bool {
	if !p.fc.IsUsingFallback() {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	recovered := p.fc.AttemptRecovery(ctx)
	if p.health != nil {
		p.health.Sync(p.fc)
	}
	p.logger.Info("recovery probe finished", zap.Bool("recovered", recovered))
	return recovered
}

// Start runs the schedule in the background.
func (p *Prober) Start() {
	p.cron.Start()
}

// Stop halts the schedule and waits for a running probe to finish or ctx to end.
func (p *Prober) Stop(ctx context.Context) {
	select {
	case <-p.cron.Stop().Done():
	case <-ctx.Done():
	}
}

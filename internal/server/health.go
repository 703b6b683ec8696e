// Package server holds the daemon's gRPC health surface and the scheduled
// failover recovery probe.
package server

import (
	"github.com/triage-ai/taskdb/internal/failover"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// PrimaryService is the health service name that tracks the primary store.
// It reports NOT_SERVING while writes are diverted to the fallback.
const PrimaryService = "taskdb.primary"

// HealthReporter publishes daemon and primary-store health over the standard
// gRPC health protocol.
type HealthReporter struct {
	srv    *health.Server
	logger *zap.Logger
}

// NewHealthReporter returns a reporter with the daemon and primary serving.
func NewHealthReporter(logger *zap.Logger) *HealthReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HealthReporter{srv: health.NewServer(), logger: logger}
	h.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.srv.SetServingStatus(PrimaryService, healthpb.HealthCheckResponse_SERVING)
	return h
}

// Register adds the health service to s.
func (h *HealthReporter) Register(s grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Sync sets the primary status from the controller's current state.
func (h *HealthReporter) Sync(fc *failover.Controller) {
	if fc.IsUsingFallback() {
		h.setPrimary(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	h.setPrimary(healthpb.HealthCheckResponse_SERVING)
}

// OnTransition is a failover.Options hook.
func (h *HealthReporter) OnTransition(_, to failover.State) {
	if to == failover.StateFallbackActive {
		h.setPrimary(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	h.setPrimary(healthpb.HealthCheckResponse_SERVING)
}

func (h *HealthReporter) setPrimary(st healthpb.HealthCheckResponse_ServingStatus) {
	h.logger.Debug("primary health", zap.String("status", st.String()))
	h.srv.SetServingStatus(PrimaryService, st)
}

// Shutdown marks every service NOT_SERVING. Later updates are ignored.
func (h *HealthReporter) Shutdown() {
	h.srv.Shutdown()
}

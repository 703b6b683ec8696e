package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/triage-ai/taskdb/internal/failover"
	"github.com/triage-ai/taskdb/internal/taskdb"
	"github.com/triage-ai/taskdb/internal/taskdb/taskdbtest"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// testHealthServer spins up an in-process gRPC server and returns a connected client.
func testHealthServer(t *testing.T, h *HealthReporter) healthpb.HealthClient {
	t.Helper()

	grpcServer := grpc.NewServer()
	h.Register(grpcServer)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go grpcServer.Serve(lis) //nolint:errcheck

	conn, err := grpc.NewClient(
		lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		grpcServer.Stop()
	})
	return healthpb.NewHealthClient(conn)
}

func checkStatus(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.Status
}

// trippedController returns a controller already writing to its fallback.
func trippedController(t *testing.T) (*failover.Controller, *taskdbtest.MemAdapter) {
	t.Helper()
	primary := taskdbtest.NewMemAdapter("primary")
	fallback := taskdbtest.NewMemAdapter("fallback")
	fc := failover.New(primary, fallback, failover.Options{MaxFailures: 1}, zap.NewNop())

	primary.FailWrites.Store(true)
	primary.FailReads.Store(true)
	if err := fc.Insert(context.Background(), taskdbtest.Event("r", taskdb.KindRunStart, 1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !fc.IsUsingFallback() {
		t.Fatal("expected controller to trip")
	}
	return fc, primary
}

func TestHealth_ServingByDefault(t *testing.T) {
	client := testHealthServer(t, NewHealthReporter(zap.NewNop()))

	if got := checkStatus(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("expected overall SERVING, got %v", got)
	}
	if got := checkStatus(t, client, PrimaryService); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("expected primary SERVING, got %v", got)
	}
}

func TestHealth_TracksFailoverTransitions(t *testing.T) {
	h := NewHealthReporter(zap.NewNop())
	client := testHealthServer(t, h)

	h.OnTransition(failover.StatePrimaryActive, failover.StateFallbackActive)
	if got := checkStatus(t, client, PrimaryService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected NOT_SERVING in fallback, got %v", got)
	}
	if got := checkStatus(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("daemon should stay SERVING in fallback, got %v", got)
	}

	h.OnTransition(failover.StateFallbackActive, failover.StatePrimaryActive)
	if got := checkStatus(t, client, PrimaryService); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("expected SERVING after recovery, got %v", got)
	}
}

func TestHealth_Shutdown(t *testing.T) {
	h := NewHealthReporter(zap.NewNop())
	client := testHealthServer(t, h)

	h.Shutdown()
	if got := checkStatus(t, client, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected NOT_SERVING after shutdown, got %v", got)
	}
}

func TestProber_RunOnce(t *testing.T) {
	fc, primary := trippedController(t)
	h := NewHealthReporter(zap.NewNop())
	client := testHealthServer(t, h)
	h.Sync(fc)

	p, err := NewProber(fc, h, "", zap.NewNop())
	if err != nil {
		t.Fatalf("NewProber: %v", err)
	}

	if p.RunOnce(context.Background()) {
		t.Fatal("probe should fail while the primary is down")
	}
	if got := checkStatus(t, client, PrimaryService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected NOT_SERVING, got %v", got)
	}

	primary.FailWrites.Store(false)
	primary.FailReads.Store(false)
	if !p.RunOnce(context.Background()) {
		t.Fatal("probe should recover a healthy primary")
	}
	if fc.IsUsingFallback() {
		t.Error("controller should be back on the primary")
	}
	if got := checkStatus(t, client, PrimaryService); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("expected SERVING, got %v", got)
	}

	queries := primary.QueryCalls.Load()
	if !p.RunOnce(context.Background()) {
		t.Error("probe on an active primary should report true")
	}
	if primary.QueryCalls.Load() != queries {
		t.Error("no probe query expected while the primary is active")
	}
}

func TestNewProber_InvalidSchedule(t *testing.T) {
	fc, _ := trippedController(t)
	if _, err := NewProber(fc, nil, "not a schedule", zap.NewNop()); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestProber_StartStop(t *testing.T) {
	fc, _ := trippedController(t)
	p, err := NewProber(fc, nil, "@every 1h", zap.NewNop())
	if err != nil {
		t.Fatalf("NewProber: %v", err)
	}
	p.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Stop(ctx)
	if ctx.Err() != nil {
		t.Error("Stop should return before the deadline when no probe is running")
	}
}

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/triage-ai/taskdb/internal/api"
	"github.com/triage-ai/taskdb/internal/auth"
	"github.com/triage-ai/taskdb/internal/config"
	"github.com/triage-ai/taskdb/internal/factory"
	"github.com/triage-ai/taskdb/internal/server"
	"github.com/triage-ai/taskdb/internal/telemetry"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

func main() {
	// Config: defaults, optional YAML file, TASKDB_* env
	cfg, err := config.Load(os.Getenv("TASKDB_CONFIG"))
	if err != nil {
		telemetry.MustLogger("info").Fatal("invalid configuration", zap.Error(err))
	}

	// Logger
	logger := telemetry.MustLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting taskdb server",
		zap.String("driver", cfg.Driver.String()),
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.String("grpc_addr", cfg.Server.GRPCAddr),
		zap.Bool("queue", cfg.Queue.Enabled),
		zap.Bool("failover", cfg.Failover.Enabled),
	)

	ctx := context.Background()

	// Telemetry
	otelProvider, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		MetricInterval: time.Duration(cfg.Telemetry.MetricIntervalSeconds) * time.Second,
	})
	if err != nil {
		logger.Fatal("failed to init telemetry", zap.Error(err))
	}
	metrics, err := telemetry.NewMetrics(otelProvider.Meter)
	if err != nil {
		logger.Fatal("failed to create metrics", zap.Error(err))
	}

	// Adapter chain
	healthReporter := server.NewHealthReporter(logger.Named("health"))
	chain, err := factory.Build(ctx, cfg, factory.Options{
		Logger:       logger,
		Metrics:      metrics,
		OnTransition: healthReporter.OnTransition,
	})
	if err != nil {
		logger.Fatal("failed to build adapter chain", zap.Error(err))
	}

	// Recovery probe
	var prober *server.Prober
	if chain.Failover != nil {
		prober, err = server.NewProber(chain.Failover, healthReporter, cfg.Failover.ProbeSchedule, logger.Named("probe"))
		if err != nil {
			logger.Fatal("failed to schedule recovery probe", zap.Error(err))
		}
		prober.Start()
		logger.Info("recovery probe scheduled", zap.String("schedule", cfg.Failover.ProbeSchedule))
	}

	// Auth (disabled when no key hash is configured)
	var authenticator *auth.Authenticator
	if cfg.Server.APIKeyHash != "" {
		authenticator, err = auth.New(auth.Config{
			APIKeyHash: cfg.Server.APIKeyHash,
			CacheTTL:   time.Duration(cfg.Server.AuthCacheTTLSeconds) * time.Second,
			Logger:     logger,
		})
		if err != nil {
			logger.Fatal("invalid api key hash", zap.Error(err))
		}
	} else {
		logger.Warn("no TASKDB_SERVER_API_KEY_HASH set, HTTP API is unauthenticated")
	}

	// HTTP API server
	httpServer := &http.Server{
		Addr: cfg.Server.HTTPAddr,
		Handler: api.NewRouter(&api.Dependencies{
			Chain:  chain,
			Auth:   authenticator,
			Logger: logger,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// gRPC health server
	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              30 * time.Second,
			Timeout:           5 * time.Second,
		}),
	)
	healthReporter.Register(grpcServer)
	// Enable reflection for debugging with grpcurl
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.Server.GRPCAddr), zap.Error(err))
	}
	go func() {
		logger.Info("grpc health server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("grpc server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	healthReporter.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()
	if prober != nil {
		prober.Stop(shutdownCtx)
	}
	// Closing the chain drains the queue into the store.
	if err := chain.Close(); err != nil {
		logger.Error("adapter chain close error", zap.Error(err))
	}
	if err := otelProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown error", zap.Error(err))
	}

	logger.Info("taskdb server stopped")
}

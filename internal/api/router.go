package api

import (
	"net/http"

	"github.com/triage-ai/taskdb/internal/auth"
	"github.com/triage-ai/taskdb/internal/factory"
	"go.uber.org/zap"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Chain  *factory.Chain
	Auth   *auth.Authenticator // nil disables auth
	Logger *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	// Events (auth required when a key hash is configured)
	mux.HandleFunc("POST /v1/events", deps.authMiddleware(deps.handleIngestEvents))
	mux.HandleFunc("GET /v1/events", deps.authMiddleware(deps.handleListEvents))

	// Chain status and failover control
	mux.HandleFunc("GET /v1/status", deps.authMiddleware(deps.handleStatus))
	mux.HandleFunc("POST /v1/failover/recover", deps.authMiddleware(deps.handleRecover))

	// Aggregations (ClickHouse only)
	mux.HandleFunc("GET /v1/analytics", deps.authMiddleware(deps.handleAnalytics))

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}

// Package api exposes the gateway over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/triage-ai/querygate/internal/auth"
	"github.com/triage-ai/querygate/internal/chread"
	"github.com/triage-ai/querygate/internal/gateway"
	"github.com/triage-ai/querygate/internal/identity"
	"go.uber.org/zap"
)

// QueryHandler runs one query through the gateway.
type QueryHandler interface {
	Handle(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// TokenVerifier authenticates admin requests.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// IdentityService backs the register and login endpoints.
type IdentityService interface {
	Register(ctx context.Context, username, password string) (*identity.User, error)
	Login(ctx context.Context, username, password string) (*identity.Token, error)
}

// AuditReader reads the query audit trail.
type AuditReader interface {
	ListEvents(ctx context.Context, params chread.ListEventsParams) ([]chread.EventRow, int, error)
	GetEvent(ctx context.Context, requestID string) (*chread.EventRow, error)
	GetStats(ctx context.Context, days int) (*chread.Stats, error)
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Gateway     QueryHandler
	Verifier    TokenVerifier
	Identity    IdentityService // nil disables /auth routes
	Reader      AuditReader     // nil if ClickHouse unavailable
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter builds the HTTP router with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	r := chi.NewMux()
	r.Use(
		middleware.Recoverer,
		requestLogging(deps.Logger),
		corsMiddleware(deps.CORSOrigins),
	)

	r.Post("/v1/query", deps.handleQuery)

	if deps.Identity != nil {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", deps.handleRegister)
			r.Post("/login", deps.handleLogin)
		})
	}

	// Audit trail (admin token required)
	r.Route("/v1/audit", func(r chi.Router) {
		r.Use(deps.requireAdmin)
		r.Get("/events", deps.handleListEvents)
		r.Get("/events/{request_id}", deps.handleGetEvent)
		r.Get("/stats", deps.handleGetStats)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

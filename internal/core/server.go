// Package core provides the API chassis for the PostPilot backend. It creates
// a chi router and enforces cross-cutting concerns -- logging, observability,
// and error handling -- before requests reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"postpilot/internal/config"
)

// RouteRegistrar mounts a group of handler routes onto a router. Domain
// handler packages provide registrars so the chassis never imports them,
// avoiding import cycles.
type RouteRegistrar func(chi.Router)

// Server encapsulates all dependencies for the PostPilot API, allowing for
// easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// V1RouteRegistrars mount the client-facing API under /v1.
	V1RouteRegistrars []RouteRegistrar
	// WebhookRouteRegistrars mount payment-provider callbacks under /webhooks.
	WebhookRouteRegistrars []RouteRegistrar

	// HealthProbes are checked by GET /health.
	HealthProbes []HealthProbe

	// Internal router
	router *chi.Mux

	// closers run during Shutdown (connection pools and the like).
	closers []func()
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. It performs a fail-fast check on critical
// configuration.
//
// The caller is responsible for mounting routes (via MountRoutes) after
// construction. This separation allows tests to customize route registration.
func NewServer(
	cfg *config.Config,
	logger *slog.Logger,
) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}

	return s, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
// This is used internally by route-mounting methods and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// AddCloser registers a cleanup function to run during Shutdown.
func (s *Server) AddCloser(fn func()) {
	s.closers = append(s.closers, fn)
}

// Shutdown performs a graceful termination of server resources: it runs the
// registered closers (database pools) in reverse registration order.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}

	s.Logger.Info("server shutdown complete")
	return nil
}

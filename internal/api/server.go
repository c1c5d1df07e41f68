// ABOUTME: chi router wiring for the public HTTP API
// ABOUTME: Public routes (register, login, health) sit outside the auth gate, everything else inside

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/convo-gateway/internal/account"
	"github.com/2389/convo-gateway/internal/auth"
	"github.com/2389/convo-gateway/internal/metrics"
	"github.com/2389/convo-gateway/internal/tenant"
)

// Deps are the collaborators the API serves from.
type Deps struct {
	Accounts *account.Service
	Guard    *tenant.Guard
	Tokens   auth.TokenVerifier

	// Users enables the active-user check on authenticated routes when set.
	Users auth.UserGetter

	// Metrics is optional. MetricsPath mounts its handler when non-empty.
	Metrics     *metrics.Metrics
	MetricsPath string

	// Ready reports whether dependencies are reachable. Nil means always ready.
	Ready func(ctx context.Context) error

	Logger  *slog.Logger
	Version string
	Now     func() time.Time
}

// Server serves the HTTP API.
type Server struct {
	accounts *account.Service
	guard    *tenant.Guard
	gate     *auth.Gate
	ready    func(ctx context.Context) error
	logger   *slog.Logger
	version  string
	now      func() time.Time
	router   chi.Router
}

// NewServer builds the router.
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		accounts: d.Accounts,
		guard:    d.Guard,
		ready:    d.Ready,
		logger:   logger.With("component", "api"),
		version:  d.Version,
		now:      d.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.gate = auth.NewGate(d.Tokens,
		auth.WithLogger(logger),
		auth.WithFailureHook(d.Metrics.RecordAuthFailure),
		auth.WithErrorWriter(s.writeError),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(d.Metrics.Middleware)
	r.Use(s.accessLog)
	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleMethodNotAllowed)

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	if d.Metrics != nil && d.MetricsPath != "" {
		r.Handle(d.MetricsPath, d.Metrics.Handler())
	}

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.gate.Middleware)
		if d.Users != nil {
			r.Use(s.gate.RequireActive(d.Users))
		}

		r.Get("/auth/me", s.handleMe)

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", s.handleListAgents)
			r.Post("/", s.handleCreateAgent)
			r.Get("/{id}", s.handleGetAgent)
			r.Put("/{id}", s.handleUpdateAgent)
			r.Delete("/{id}", s.handleDeleteAgent)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", s.handleListConversations)
			r.Post("/", s.handleCreateConversation)
			r.Get("/{id}", s.handleGetConversation)
			r.Put("/{id}", s.handleUpdateConversation)
			r.Get("/{id}/messages", s.handleListMessages)
		})

		r.Post("/chat/send", s.handleSendMessage)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Routes exposes the router for route walking.
func (s *Server) Routes() chi.Routes {
	return s.router
}

// accessLog logs one line per request once the response is written.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Success:   true,
		Status:    "OK",
		Timestamp: s.now().UTC().Format(time.RFC3339Nano),
		Version:   s.version,
	})
}

// handleReady returns 503 when a dependency check fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.WarnContext(r.Context(), "readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "not ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Success:   true,
		Status:    "READY",
		Timestamp: s.now().UTC().Format(time.RFC3339Nano),
		Version:   s.version,
	})
}

// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Binds the verified identity to the request context before any handler runs

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/2389/convo-gateway/internal/apperr"
	"github.com/2389/convo-gateway/internal/store"
)

// UserGetter loads a user by id. Satisfied by store.UserStore.
type UserGetter interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// ErrorWriter renders a failed authentication to the client.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Gate authenticates requests before they reach resource handlers.
type Gate struct {
	verifier   TokenVerifier
	logger     *slog.Logger
	onFailure  func(reason string)
	writeError ErrorWriter
}

// GateOption customises a Gate.
type GateOption func(*Gate)

// WithLogger sets the logger used for failure diagnostics.
func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) { g.logger = logger }
}

// WithFailureHook registers a callback invoked with the reason of every rejection.
func WithFailureHook(fn func(reason string)) GateOption {
	return func(g *Gate) { g.onFailure = fn }
}

// WithErrorWriter replaces the default JSON error response.
func WithErrorWriter(fn ErrorWriter) GateOption {
	return func(g *Gate) { g.writeError = fn }
}

// NewGate creates a Gate that verifies tokens with verifier.
func NewGate(verifier TokenVerifier, opts ...GateOption) *Gate {
	g := &Gate{
		verifier:   verifier,
		logger:     slog.Default(),
		onFailure:  func(string) {},
		writeError: writeJSONError,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "auth")
	return g
}

// writeJSONError writes {"success":false,"error":...} with the error's status.
func writeJSONError(w http.ResponseWriter, _ *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.Status(err))
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   apperr.PublicMessage(err),
	})
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, reason string, err error) {
	g.logger.DebugContext(r.Context(), "request rejected",
		"reason", reason,
		"path", r.URL.Path,
		"error", err,
	)
	g.onFailure(reason)
	g.writeError(w, r, err)
}

// Middleware rejects requests without a valid bearer token and otherwise
// attaches the Identity to the request context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := Authenticate(r.Header.Get("Authorization"), g.verifier)
		if err != nil {
			g.reject(w, r, Reason(err), err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireActive returns a middleware that re-loads the authenticated user and
// rejects the request as an invalid token when the user no longer exists or
// has been deactivated. Must be used after Middleware.
func (g *Gate) RequireActive(users UserGetter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil {
				g.reject(w, r, ReasonMissing, apperr.New(apperr.KindMissingToken, nil))
				return
			}

			user, err := users.GetUser(r.Context(), id.UserID)
			if errors.Is(err, store.ErrNotFound) || (err == nil && !user.IsActive) {
				g.reject(w, r, ReasonInactive, apperr.New(apperr.KindInvalidToken, errors.New("user missing or inactive")))
				return
			}
			if err != nil {
				g.logger.ErrorContext(r.Context(), "loading user for active check", "error", err)
				g.writeError(w, r, apperr.Internal(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

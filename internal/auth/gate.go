// ABOUTME: Request authentication: bearer extraction and token verification
// ABOUTME: Authenticate is pure so the HTTP middleware and tests share one code path

package auth

import (
	"errors"
	"strings"

	"github.com/2389/convo-gateway/internal/apperr"
)

// Failure reasons reported to logs and the auth_failures_total metric.
const (
	ReasonMissing  = "missing"
	ReasonInactive = "inactive"
)

var (
	errNoHeader    = errors.New("missing authorization header")
	errNotBearer   = errors.New("invalid authorization header format")
	errEmptyBearer = errors.New("empty token")
)

// extractBearerToken extracts a bearer token from the Authorization header.
func extractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errNoHeader
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errNotBearer
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errEmptyBearer
	}
	return token, nil
}

// Authenticate resolves an Authorization header value into an Identity.
// A missing, empty or non-Bearer header yields KindMissingToken; any
// verification failure yields KindInvalidToken wrapping the verifier's error.
func Authenticate(authHeader string, verifier TokenVerifier) (*Identity, error) {
	token, err := extractBearerToken(authHeader)
	if err != nil {
		return nil, apperr.New(apperr.KindMissingToken, err)
	}

	userID, err := verifier.Verify(token)
	if err != nil {
		return nil, apperr.New(apperr.KindInvalidToken, err)
	}

	return &Identity{UserID: userID}, nil
}

// Reason classifies an Authenticate error for logging and metrics.
func Reason(err error) string {
	if apperr.Is(err, apperr.KindMissingToken) {
		return ReasonMissing
	}
	return FailureReason(err)
}

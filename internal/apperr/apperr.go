// ABOUTME: Tagged error variants shared by the auth, account, tenant and api packages
// ABOUTME: Maps each variant to exactly one HTTP status and one stable public message

package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of failure that callers can see.
type Kind string

const (
	KindMissingToken       Kind = "MISSING_TOKEN"
	KindInvalidToken       Kind = "INVALID_TOKEN"
	KindEmailInUse         Kind = "EMAIL_IN_USE"
	KindInvalidCredentials Kind = "INVALID_CREDENTIALS"
	KindAccountDisabled    Kind = "ACCOUNT_DISABLED"
	KindNotFound           Kind = "NOT_FOUND"
	KindInvalidInput       Kind = "INVALID_INPUT"
	KindInternal           Kind = "INTERNAL"
)

// Error is a failure tagged with its Kind. Err keeps the internal cause for
// logging and is never shown to the client.
type Error struct {
	Kind Kind
	// Subject names the resource for NotFound ("agent", "conversation", ...)
	// or the offending field for InvalidInput.
	Subject string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Subject != "" {
		msg += " (" + e.Subject + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an Error of the given kind wrapping cause (which may be nil).
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

// NotFound returns a NotFound error for the named resource kind.
func NotFound(subject string) *Error {
	return &Error{Kind: KindNotFound, Subject: subject}
}

// Invalid returns an InvalidInput error with a client-safe description.
func Invalid(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Subject: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected collaborator failure.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Err: cause}
}

// KindOf returns the Kind of err, or KindInternal for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is tagged with kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Status returns the HTTP status code for err.
func Status(err error) int {
	switch KindOf(err) {
	case KindMissingToken, KindInvalidToken, KindInvalidCredentials, KindAccountDisabled:
		return http.StatusUnauthorized
	case KindEmailInUse:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show to the client for err.
// Variants that must not be told apart (token failures, credential
// failures) share a single message regardless of the internal cause.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal server error"
	}
	switch e.Kind {
	case KindMissingToken:
		return "authorization token required"
	case KindInvalidToken:
		return "invalid or expired token"
	case KindEmailInUse:
		return "email already in use"
	case KindInvalidCredentials:
		return "invalid email or password"
	case KindAccountDisabled:
		return "account disabled"
	case KindNotFound:
		if e.Subject != "" {
			return e.Subject + " not found"
		}
		return "not found"
	case KindInvalidInput:
		if e.Subject != "" {
			return e.Subject
		}
		return "invalid request"
	default:
		return "internal server error"
	}
}

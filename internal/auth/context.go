// ABOUTME: Authenticated identity carried through request handlers via context
// ABOUTME: Provides WithIdentity/FromContext for propagating the caller's user ID

package auth

import (
	"context"
)

// Identity is the authenticated caller bound to a request.
type Identity struct {
	UserID string
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || id == nil || id.UserID == "" {
		return nil
	}
	return id
}

// ABOUTME: Package documentation for the auth package
// ABOUTME: Describes password hashing, bearer tokens, and the request gate

// Package auth provides credential hashing, token issuance and request
// authentication for convo-gateway.
//
// # Passwords
//
// BcryptHasher hashes passwords with an adaptive cost (12 by default). It also
// keeps a dummy digest at the same cost so that a login for an unknown email
// costs the same as a login with a wrong password:
//
//	h, err := auth.NewBcryptHasher(12)
//	digest, err := h.Hash("correct horse battery")
//	ok := h.Verify("correct horse battery", digest)
//
// # Tokens
//
// TokenService issues HS256 JWTs carrying sub, iss, iat, exp and jti claims.
// Tokens are stateless and valid until exp; there is no revocation list.
// Verify reports one of ErrMalformedToken, ErrInvalidSignature or
// ErrExpiredToken. Callers collapse these into a single client-facing error.
//
// # Request Gate
//
// Authenticate turns an Authorization header into an Identity. Gate wraps it
// as chi-compatible middleware:
//
//	gate := auth.NewGate(tokens, auth.WithLogger(logger))
//	r.Group(func(r chi.Router) {
//		r.Use(gate.Middleware)
//		r.Get("/agents", listAgents)
//	})
//
// Handlers read the caller with FromContext. The optional RequireActive stage
// re-loads the user and rejects tokens belonging to deactivated accounts.
package auth

// ABOUTME: Package documentation for the gateway orchestrator
// ABOUTME: Describes component wiring and the run/shutdown lifecycle

// Package gateway assembles and runs the convo-gateway server.
//
// # Wiring
//
// New opens the configured store (SQLite or PostgreSQL) and builds the
// request path on top of it:
//
//	store -> auth (bcrypt hasher, JWT service)
//	      -> account.Service (register, login, me)
//	      -> tenant.Guard (owner-scoped agents, conversations, messages)
//	      -> api.Server (chi router, auth gate, metrics)
//
// When auth.require_active_user is set, the gate also rejects tokens whose
// user has been deactivated.
//
// # Listeners
//
// The HTTP API listens on server.http_addr, or on a tsnet node when
// tailscale.enabled is set. Tailscale mode can serve plain HTTP on :80,
// HTTPS with tailnet certificates on :443, or a public Funnel.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger, version)
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Run performs a graceful shutdown bounded by server.shutdown_timeout and
// closes the store before returning.
package gateway

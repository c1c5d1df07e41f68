// ABOUTME: Package documentation for the tenant package
// ABOUTME: Summarises how ownership is derived and enforced

// Package tenant enforces per-user ownership of agents, conversations and
// messages. The owner always comes from the authenticated identity in the
// request context, never from the payload. Rows owned by someone else are
// reported as not found.
package tenant

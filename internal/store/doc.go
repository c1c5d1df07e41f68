// Package store provides persistent storage for the gateway.
//
// # Architecture
//
// The store package is interface-driven:
//
//   - UserStore: registered identities, looked up by id or case-folded email
//   - AgentStore, ConversationStore, MessageStore: owner-scoped collections
//   - Store: all of the above plus Ping and Close
//
// Every owned-collection method takes the requesting owner's id and folds it
// into the query predicate, so a record belonging to someone else behaves
// exactly like a missing one (ErrNotFound, or omitted from a list).
//
// # Backends
//
//   - SQLiteStore (modernc.org/sqlite): default, single connection, file on disk
//   - PostgresStore (pgx/v5 pgxpool): connects with retry on startup
//   - MockStore: in-memory, for unit tests
//
// Schemas live in migrations/sqlite and migrations/postgres and are applied
// with goose from an embedded filesystem when a store is opened.
//
// # Uniqueness
//
// Email uniqueness is a UNIQUE constraint in both backends. A violation is
// reported as ErrEmailExists so concurrent registrations cannot both succeed.
package store

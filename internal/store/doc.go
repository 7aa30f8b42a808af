// Package store provides persistent storage for the workroom gateway.
//
// # Architecture
//
// The store package uses an interface-driven architecture with several
// narrow interfaces composed into Store:
//
//   - ConversationStore: conversations and their two public key slots
//   - MessageStore: the append-only message arena and delivery state
//   - AuditStore: the append-only per-conversation audit log
//   - WorkspaceStore: meetings, documents, tasks and screen shares
//   - PrincipalStore: identities that may authenticate
//
// Three implementations are provided:
//
//   - SQLiteStore: database/sql over modernc.org/sqlite (default) or mattn/go-sqlite3
//   - PostgresStore: pgx/v5 connection pool
//   - MockStore: in-memory, for unit tests
//
// # Message Arena
//
// Messages are not embedded in the conversation record. Each message is its
// own row keyed by conversation ID, so an append is a single INSERT and two
// parties sending at once never overwrite each other. Delivery state moves
// only forward through conditional updates:
//
//	UPDATE messages SET status = 'delivered' ... WHERE status = 'sent'
//	UPDATE messages SET status = 'read'      ... WHERE status <> 'read'
//
// Idempotency keys are unique per (conversation, sender) through a partial
// unique index; a second insert with the same key returns ErrDuplicateMessage.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as fixed-width RFC 3339 text with nanoseconds so they
// compare correctly as strings.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateConversation: a conversation already exists for the proposal
//   - ErrDuplicateMessage: the sender already used the idempotency key
//   - ErrDuplicatePrincipal: the principal ID is taken
//   - ErrKeyConflict: the key slot holds a different key and overwrite was not requested
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") for
// integration tests against a real database.
package store

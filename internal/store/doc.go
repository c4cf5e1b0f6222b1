// Package store provides persistent storage for slack-pulse using SQLite.
//
// # Architecture
//
// The store package is interface-driven with one interface per concern:
//
//   - WorkspaceStore: installed Slack teams and their bot credentials
//   - ConversationStore: ingested messages and bot replies
//   - AnalysisStore: completed channel sentiment analyses
//   - JobStore: the durable background job queue
//
// Store composes all of them. SQLiteStore and MockStore implement Store.
//
// # Data Models
//
//   - Workspace: unique by TeamID; re-installing updates the row in place
//   - ConversationRecord: unique by (WorkspaceID, ChannelID, MessageTS)
//   - ChannelAnalysisResult: append-only, one per successful analysis
//   - Job: queued, running, succeeded or failed
//
// # Idempotent Ingest
//
// EnsureConversationRecord is insert-if-absent. A second ingest of the same
// Slack message is a no-op that reports created=false rather than an error.
// SaveExchange additionally fills the reply on a row that was ingested
// without one.
//
// # SQLite Configuration
//
// Two drivers are supported:
//
//   - "sqlite": modernc.org/sqlite, pure Go (default)
//   - "sqlite3": github.com/mattn/go-sqlite3, requires cgo
//
// The store uses WAL mode, foreign keys and a busy timeout:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Timestamps are stored as fixed-width RFC 3339 text in UTC so that
// ORDER BY created_at is chronological.
//
// # Token Sealing
//
// When an encryption key is configured, bot tokens are sealed with NaCl
// secretbox before they are written. Rows written without a key stay
// readable after one is added.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrUnseal: a sealed token cannot be opened with the configured key
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(path) with a
// t.TempDir() path for integration tests against real SQLite.
package store

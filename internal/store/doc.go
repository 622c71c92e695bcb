// Package store provides persistent storage for brain-gateway using SQLite.
//
// # Data Models
//
//   - Conversation: One user dialog with a monotonic per-conversation
//     sequence counter and soft-delete support
//   - Message: A user or assistant message; sequence numbers are strictly
//     increasing with no gaps, assigned inside the append transaction
//   - ChartArtifact: The settled outcome of one chart intent (ready,
//     omitted or rejected), written only alongside its owning message
//
// # Write path
//
// AppendMessage is the only way messages reach the database. It runs a
// single transaction that reads the conversation's next_sequence, inserts
// the message plus every chart artifact, and advances the counter. A
// message is therefore never partially visible: readers either see it with
// all of its charts or not at all.
//
// # SQLite Configuration
//
// The store uses SQLite (modernc.org/sqlite) with WAL mode for concurrent
// reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore(":memory:") for tests.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrConversationDeleted: Conversation was soft-deleted
//
// All methods accept context.Context for cancellation support.
package store

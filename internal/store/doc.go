// Package store provides persistent conversation history for coven-chat.
//
// # Architecture
//
// HistoryStore is the only interface the rest of the program sees. SQLStore
// implements it on database/sql and supports three drivers:
//
//   - sqlite: modernc.org/sqlite, pure Go (default)
//   - sqlite3: github.com/mattn/go-sqlite3, requires cgo
//   - mysql: github.com/go-sql-driver/mysql
//
// Every operation acquires one pooled connection for its duration and
// returns it when done. Append runs inside a transaction on that connection.
//
// # Data Model
//
//	threads(id, heading, created_at, updated_at)
//	exchanges(thread_id, seq, user_message, agent_reply, created_at)
//
// One exchanges row holds a user message and the reply to it, so the two
// sides of a conversation can never get out of step. seq is the 0-based
// arrival order and (thread_id, seq) is the primary key, so two writers
// racing on one thread produce ErrConflict instead of silently losing an
// exchange.
//
// The heading is written when the thread row is inserted and never updated.
//
// # SQLite Configuration
//
// The SQLite drivers are opened with:
//
//	journal_mode=WAL
//	foreign_keys=ON
//	busy_timeout=5000
//	_txlock=immediate
//
// # Migrations
//
// Schema migrations are embedded from migrations/{sqlite,mysql} and applied
// with goose when the store is opened. `coven-chat migrate` runs them
// explicitly.
//
// # Errors
//
//   - ErrNotFound: thread does not exist
//   - ErrConflict: concurrent write to the same thread
//   - ErrEmptyAppend: Append called with no exchanges
//
// # Testing
//
// NewMockStore() is an in-memory HistoryStore with error injection and call
// counters. NewSQLiteStore(path) with a t.TempDir() path gives a real
// database.
package store

// Package sqlite implements the wadesk stores on an embedded SQLite
// database. This is the default single-instance backend; the pg package
// provides the shared multi-instance equivalent with identical semantics.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/DavidFlores79/wadesk/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL,
	status TEXT NOT NULL,
	assigned_agent TEXT NOT NULL DEFAULT '',
	priority TEXT NOT NULL DEFAULT 'normal',
	ai_enabled INTEGER NOT NULL DEFAULT 1,
	last_message_at INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_customer ON conversations(customer_id, status);
CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status, updated_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_active
	ON conversations(customer_id) WHERE status IN ('open', 'assigned', 'waiting');

CREATE TABLE IF NOT EXISTS assignments (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	assigned_at INTEGER NOT NULL,
	released_at INTEGER NOT NULL DEFAULT 0,
	release_reason TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	analysis TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_assignments_conversation ON assignments(conversation_id, released_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_open
	ON assignments(conversation_id) WHERE released_at = 0;

CREATE TABLE IF NOT EXISTS threads (
	user_id TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	last_cleanup_at INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tickets (
	id TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL,
	subject TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
`

// NewStores opens (creating if needed) the SQLite database and returns
// all stores backed by it.
func NewStores(path string) (*store.Stores, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer: SQLite serializes writes anyway, and a capped pool
	// avoids SQLITE_BUSY under concurrent operator actions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &store.Stores{
		Conversations: &conversationStore{db: db},
		Assignments:   &assignmentStore{db: db},
		Threads:       &threadStore{db: db},
		Tickets:       &ticketStore{db: db},
	}, nil
}

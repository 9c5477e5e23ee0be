// Package pg implements the wadesk stores on PostgreSQL for deployments
// that run several gateway instances against one shared database.
// Schema is managed by `wadesk migrate` (golang-migrate); this package
// assumes migrations have been applied.
package pg

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/DavidFlores79/wadesk/internal/store"
)

// NewStores opens the Postgres pool and returns all stores backed by it.
func NewStores(dsn string) (*store.Stores, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &store.Stores{
		Conversations: &conversationStore{db: db},
		Assignments:   &assignmentStore{db: db},
		Threads:       &threadStore{db: db},
		Tickets:       &ticketStore{db: db},
	}, nil
}

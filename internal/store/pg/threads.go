package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DavidFlores79/wadesk/internal/store"
)

type threadStore struct {
	db *sql.DB
}

func (s *threadStore) Get(ctx context.Context, userID string) (*store.ThreadRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, thread_id, message_count, last_cleanup_at, created_at, updated_at
		 FROM threads WHERE user_id = $1`, userID)

	var (
		rec     store.ThreadRecord
		cleanup sql.NullTime
	)
	err := row.Scan(&rec.UserID, &rec.ThreadID, &rec.MessageCount, &cleanup, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan thread: %w", err)
	}
	if cleanup.Valid {
		rec.LastCleanupAt = cleanup.Time
	}
	return &rec, nil
}

func (s *threadStore) Put(ctx context.Context, rec *store.ThreadRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (user_id, thread_id, message_count, last_cleanup_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO UPDATE SET
		   thread_id = EXCLUDED.thread_id,
		   message_count = EXCLUDED.message_count,
		   last_cleanup_at = EXCLUDED.last_cleanup_at,
		   updated_at = EXCLUDED.updated_at`,
		rec.UserID, rec.ThreadID, rec.MessageCount, nullTime(rec.LastCleanupAt),
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}
	return nil
}

func (s *threadStore) UpdateCounters(ctx context.Context, userID string, messageCount int, lastCleanupAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET message_count = $1, last_cleanup_at = $2, updated_at = $3 WHERE user_id = $4`,
		messageCount, nullTime(lastCleanupAt), time.Now(), userID)
	if err != nil {
		return fmt.Errorf("update thread counters: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

type ticketStore struct {
	db *sql.DB
}

func (s *ticketStore) Create(ctx context.Context, t *store.Ticket) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.Must(uuid.NewV7())
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (id, customer_id, subject, detail, created_at) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.CustomerID, t.Subject, t.Detail, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (s *ticketStore) Get(ctx context.Context, id uuid.UUID) (*store.Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, subject, detail, created_at FROM tickets WHERE id = $1`, id)

	var t store.Ticket
	err := row.Scan(&t.ID, &t.CustomerID, &t.Subject, &t.Detail, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ticket: %w", err)
	}
	return &t, nil
}

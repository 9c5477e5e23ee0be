package sqlite

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
		 FROM threads WHERE user_id = ?`, userID)

	var (
		rec                              store.ThreadRecord
		cleanupMs, createdMs, updatedMs int64
	)
	err := row.Scan(&rec.UserID, &rec.ThreadID, &rec.MessageCount, &cleanupMs, &createdMs, &updatedMs)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan thread: %w", err)
	}

	if cleanupMs != 0 {
		rec.LastCleanupAt = time.UnixMilli(cleanupMs)
	}
	rec.CreatedAt = time.UnixMilli(createdMs)
	rec.UpdatedAt = time.UnixMilli(updatedMs)
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
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   thread_id = excluded.thread_id,
		   message_count = excluded.message_count,
		   last_cleanup_at = excluded.last_cleanup_at,
		   updated_at = excluded.updated_at`,
		rec.UserID, rec.ThreadID, rec.MessageCount, unixMilliOrZero(rec.LastCleanupAt),
		rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}
	return nil
}

func (s *threadStore) UpdateCounters(ctx context.Context, userID string, messageCount int, lastCleanupAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET message_count = ?, last_cleanup_at = ?, updated_at = ? WHERE user_id = ?`,
		messageCount, unixMilliOrZero(lastCleanupAt), time.Now().UnixMilli(), userID)
	if err != nil {
		return fmt.Errorf("update thread counters: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
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
		`INSERT INTO tickets (id, customer_id, subject, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID.String(), t.CustomerID, t.Subject, t.Detail, t.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (s *ticketStore) Get(ctx context.Context, id uuid.UUID) (*store.Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, subject, detail, created_at FROM tickets WHERE id = ?`, id.String())

	var (
		t         store.Ticket
		idStr     string
		createdMs int64
	)
	err := row.Scan(&idStr, &t.CustomerID, &t.Subject, &t.Detail, &createdMs)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ticket: %w", err)
	}

	t.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse ticket id: %w", err)
	}
	t.CreatedAt = time.UnixMilli(createdMs)
	return &t, nil
}

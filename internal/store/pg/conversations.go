package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/DavidFlores79/wadesk/internal/store"
)

type conversationStore struct {
	db *sql.DB
}

func (s *conversationStore) Create(ctx context.Context, conv *store.Conversation) error {
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, customer_id, status, assigned_agent, priority, ai_enabled, last_message_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		conv.ID, conv.CustomerID, string(conv.Status), conv.AssignedAgent, conv.Priority,
		conv.AIEnabled, conv.LastMessageAt, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		// The partial unique index on (customer_id) over non-terminal
		// statuses enforces one active conversation per customer, even
		// across gateway instances sharing this database.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return store.ErrActiveConversationExists
		}
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *conversationStore) Get(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, status, assigned_agent, priority, ai_enabled, last_message_at, created_at, updated_at
		 FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func (s *conversationStore) FindActiveByCustomer(ctx context.Context, customerID string) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, status, assigned_agent, priority, ai_enabled, last_message_at, created_at, updated_at
		 FROM conversations
		 WHERE customer_id = $1 AND status IN ('open', 'assigned', 'waiting')
		 ORDER BY created_at DESC LIMIT 1`, customerID)
	return scanConversation(row)
}

func (s *conversationStore) UpdateStatusIf(ctx context.Context, id uuid.UUID, upd store.StatusUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET status = $1, assigned_agent = $2, ai_enabled = $3, updated_at = $4
		 WHERE id = $5 AND status = $6`,
		string(upd.To), upd.AssignedAgent, upd.AIEnabled, time.Now(), id, string(upd.From))
	if err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrStaleStatus
	}
	return nil
}

func (s *conversationStore) UpdatePriority(ctx context.Context, id uuid.UUID, priority string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET priority = $1, updated_at = $2 WHERE id = $3`,
		priority, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update priority: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *conversationStore) TouchLastMessage(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("touch last message: %w", err)
	}
	return nil
}

func (s *conversationStore) ListStale(ctx context.Context, status store.Status, cutoff time.Time) ([]*store.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_id, status, assigned_agent, priority, ai_enabled, last_message_at, created_at, updated_at
		 FROM conversations WHERE status = $1 AND updated_at < $2`,
		string(status), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale conversations: %w", err)
	}
	defer rows.Close()

	var out []*store.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*store.Conversation, error) {
	var (
		conv   store.Conversation
		status string
	)
	err := row.Scan(&conv.ID, &conv.CustomerID, &status, &conv.AssignedAgent, &conv.Priority,
		&conv.AIEnabled, &conv.LastMessageAt, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	conv.Status = store.Status(status)
	return &conv, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID.String(), conv.CustomerID, string(conv.Status), conv.AssignedAgent, conv.Priority,
		boolToInt(conv.AIEnabled), conv.LastMessageAt.UnixMilli(), conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		// The partial unique index on (customer_id) over non-terminal
		// statuses enforces one active conversation per customer.
		if strings.Contains(err.Error(), "UNIQUE") {
			return store.ErrActiveConversationExists
		}
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *conversationStore) Get(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, status, assigned_agent, priority, ai_enabled, last_message_at, created_at, updated_at
		 FROM conversations WHERE id = ?`, id.String())
	return scanConversation(row)
}

func (s *conversationStore) FindActiveByCustomer(ctx context.Context, customerID string) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, status, assigned_agent, priority, ai_enabled, last_message_at, created_at, updated_at
		 FROM conversations
		 WHERE customer_id = ? AND status IN ('open', 'assigned', 'waiting')
		 ORDER BY created_at DESC LIMIT 1`, customerID)
	return scanConversation(row)
}

func (s *conversationStore) UpdateStatusIf(ctx context.Context, id uuid.UUID, upd store.StatusUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET status = ?, assigned_agent = ?, ai_enabled = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(upd.To), upd.AssignedAgent, boolToInt(upd.AIEnabled), time.Now().UnixMilli(),
		id.String(), string(upd.From),
	)
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
		`UPDATE conversations SET priority = ?, updated_at = ? WHERE id = ?`,
		priority, time.Now().UnixMilli(), id.String())
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
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`,
		at.UnixMilli(), id.String())
	if err != nil {
		return fmt.Errorf("touch last message: %w", err)
	}
	return nil
}

func (s *conversationStore) ListStale(ctx context.Context, status store.Status, cutoff time.Time) ([]*store.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_id, status, assigned_agent, priority, ai_enabled, last_message_at, created_at, updated_at
		 FROM conversations WHERE status = ? AND updated_at < ?`,
		string(status), cutoff.UnixMilli())
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
		conv                            store.Conversation
		idStr, status                   string
		aiEnabled                       int
		lastMsgMs, createdMs, updatedMs int64
	)
	err := row.Scan(&idStr, &conv.CustomerID, &status, &conv.AssignedAgent, &conv.Priority,
		&aiEnabled, &lastMsgMs, &createdMs, &updatedMs)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}

	conv.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse conversation id: %w", err)
	}
	conv.Status = store.Status(status)
	conv.AIEnabled = aiEnabled != 0
	conv.LastMessageAt = time.UnixMilli(lastMsgMs)
	conv.CreatedAt = time.UnixMilli(createdMs)
	conv.UpdatedAt = time.UnixMilli(updatedMs)
	return &conv, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

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

type assignmentStore struct {
	db *sql.DB
}

func (s *assignmentStore) OpenAssignment(ctx context.Context, rec *store.AssignmentRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.Must(uuid.NewV7())
	}
	if rec.AssignedAt.IsZero() {
		rec.AssignedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assignments (id, conversation_id, agent_id, assigned_at)
		 VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.ConversationID, rec.AgentID, rec.AssignedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return store.ErrOpenAssignmentExists
		}
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

func (s *assignmentStore) GetOpen(ctx context.Context, conversationID uuid.UUID) (*store.AssignmentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, agent_id, assigned_at, released_at, release_reason, duration_ms, analysis
		 FROM assignments WHERE conversation_id = $1 AND released_at IS NULL`,
		conversationID)
	return scanAssignment(row)
}

func (s *assignmentStore) CloseOpen(ctx context.Context, conversationID uuid.UUID, releasedAt time.Time, reason string) (*store.AssignmentRecord, error) {
	open, err := s.GetOpen(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	duration := releasedAt.Sub(open.AssignedAt)
	res, err := s.db.ExecContext(ctx,
		`UPDATE assignments SET released_at = $1, release_reason = $2, duration_ms = $3
		 WHERE id = $4 AND released_at IS NULL`,
		releasedAt, reason, duration.Milliseconds(), open.ID)
	if err != nil {
		return nil, fmt.Errorf("close assignment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}

	open.ReleasedAt = releasedAt
	open.ReleaseReason = reason
	open.Duration = duration
	return open, nil
}

func (s *assignmentStore) SetAnalysis(ctx context.Context, id uuid.UUID, analysis string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assignments SET analysis = $1 WHERE id = $2`, analysis, id)
	if err != nil {
		return fmt.Errorf("set analysis: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *assignmentStore) ListForConversation(ctx context.Context, conversationID uuid.UUID) ([]*store.AssignmentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, agent_id, assigned_at, released_at, release_reason, duration_ms, analysis
		 FROM assignments WHERE conversation_id = $1 ORDER BY assigned_at`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []*store.AssignmentRecord
	for rows.Next() {
		rec, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanAssignment(row rowScanner) (*store.AssignmentRecord, error) {
	var (
		rec        store.AssignmentRecord
		releasedAt sql.NullTime
		durationMs int64
	)
	err := row.Scan(&rec.ID, &rec.ConversationID, &rec.AgentID, &rec.AssignedAt,
		&releasedAt, &rec.ReleaseReason, &durationMs, &rec.Analysis)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan assignment: %w", err)
	}

	if releasedAt.Valid {
		rec.ReleasedAt = releasedAt.Time
	}
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	return &rec, nil
}

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
		 VALUES (?, ?, ?, ?)`,
		rec.ID.String(), rec.ConversationID.String(), rec.AgentID, rec.AssignedAt.UnixMilli())
	if err != nil {
		// The partial unique index on (conversation_id) WHERE released_at = 0
		// enforces the one-open-record invariant at the storage layer.
		if strings.Contains(err.Error(), "UNIQUE") {
			return store.ErrOpenAssignmentExists
		}
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

func (s *assignmentStore) GetOpen(ctx context.Context, conversationID uuid.UUID) (*store.AssignmentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, agent_id, assigned_at, released_at, release_reason, duration_ms, analysis
		 FROM assignments WHERE conversation_id = ? AND released_at = 0`,
		conversationID.String())
	return scanAssignment(row)
}

func (s *assignmentStore) CloseOpen(ctx context.Context, conversationID uuid.UUID, releasedAt time.Time, reason string) (*store.AssignmentRecord, error) {
	open, err := s.GetOpen(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	duration := releasedAt.Sub(open.AssignedAt)
	res, err := s.db.ExecContext(ctx,
		`UPDATE assignments SET released_at = ?, release_reason = ?, duration_ms = ?
		 WHERE id = ? AND released_at = 0`,
		releasedAt.UnixMilli(), reason, duration.Milliseconds(), open.ID.String())
	if err != nil {
		return nil, fmt.Errorf("close assignment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Raced with another release; treat as already closed.
		return nil, store.ErrNotFound
	}

	open.ReleasedAt = releasedAt
	open.ReleaseReason = reason
	open.Duration = duration
	return open, nil
}

func (s *assignmentStore) SetAnalysis(ctx context.Context, id uuid.UUID, analysis string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assignments SET analysis = ? WHERE id = ?`, analysis, id.String())
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
		 FROM assignments WHERE conversation_id = ? ORDER BY assigned_at`,
		conversationID.String())
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
		rec                    store.AssignmentRecord
		idStr, convStr         string
		assignedMs, releasedMs int64
		durationMs             int64
	)
	err := row.Scan(&idStr, &convStr, &rec.AgentID, &assignedMs, &releasedMs, &rec.ReleaseReason, &durationMs, &rec.Analysis)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan assignment: %w", err)
	}

	rec.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse assignment id: %w", err)
	}
	rec.ConversationID, err = uuid.Parse(convStr)
	if err != nil {
		return nil, fmt.Errorf("parse conversation id: %w", err)
	}
	rec.AssignedAt = time.UnixMilli(assignedMs)
	if releasedMs != 0 {
		rec.ReleasedAt = time.UnixMilli(releasedMs)
	}
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	return &rec, nil
}

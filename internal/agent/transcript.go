package agent

import (
	"context"
	"fmt"
	"strings"
)

// Transcript renders the most recent turns of a user's thread as plain
// text, oldest first. Used for takeover summaries and release analyses.
func (m *Manager) Transcript(ctx context.Context, userID string, limit int) (string, error) {
	rec, err := m.threads.Get(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load thread mapping: %w", err)
	}

	messages, err := m.client.ListMessages(ctx, rec.ThreadID, limit)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i := len(messages) - 1; i >= 0; i-- { // newest-first → oldest-first
		msg := messages[i]
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

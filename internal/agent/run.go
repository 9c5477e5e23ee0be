package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DavidFlores79/wadesk/internal/provider"
	"github.com/DavidFlores79/wadesk/internal/retry"
)

// ErrTurnFailed is wrapped around any turn that exhausted its retry or
// poll budget. Callers translate it into the user-safe fallback reply;
// it never propagates to the ingestion path as a crash.
var ErrTurnFailed = errors.New("agent: turn failed")

// RunTurn executes one conversational turn for a user and returns the
// assistant's reply.
//
// Calls for the same user are single-flight: a second call while one is
// in flight waits on the run lock and proceeds only after the first
// completes or fails. Different users run fully in parallel.
func (m *Manager) RunTurn(ctx context.Context, userID, text string) (string, error) {
	mu := m.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	st, err := m.getOrCreate(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTurnFailed, err)
	}

	// A previous turn's run may still occupy the thread (e.g. after a
	// timeout on our side). Wait it out within the poll budget.
	if err := m.awaitThreadIdle(ctx, st); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTurnFailed, err)
	}

	if err := m.appendWithRetry(ctx, st.threadID, text); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTurnFailed, err)
	}
	st.messageCount++

	reply, err := m.executeRun(ctx, st)
	if err != nil {
		m.persistCounters(ctx, userID, st)
		return "", fmt.Errorf("%w: %v", ErrTurnFailed, err)
	}
	st.messageCount++

	if st.messageCount >= m.cfg.CleanupHighWater {
		m.trimThread(ctx, st)
	}
	m.persistCounters(ctx, userID, st)

	return reply, nil
}

// awaitThreadIdle polls the last known run until it leaves the active
// states, bounded by the poll budget.
func (m *Manager) awaitThreadIdle(ctx context.Context, st *threadState) error {
	if st.lastRunID == "" {
		return nil
	}

	err := retry.Poll(ctx, m.cfg.PollInterval, m.cfg.PollBudget, func(ctx context.Context) (bool, error) {
		run, err := m.client.GetRun(ctx, st.threadID, st.lastRunID)
		if err != nil {
			if provider.IsTransient(err) {
				return false, nil // keep polling within the budget
			}
			return false, err
		}
		return !run.Status.Active(), nil
	})
	if errors.Is(err, retry.ErrBudgetExceeded) {
		return provider.ErrRunActive
	}
	if err != nil {
		return err
	}

	st.lastRunID = ""
	return nil
}

// appendWithRetry appends the user message, retrying transient
// conflicts a bounded number of times before surfacing the error.
func (m *Manager) appendWithRetry(ctx context.Context, threadID, text string) error {
	return retry.Backoff(ctx, m.cfg.AppendRetries, 500*time.Millisecond, provider.IsTransient,
		func(ctx context.Context) error {
			return m.client.AppendMessage(ctx, threadID, text)
		})
}

// executeRun starts a run and drives it to completion, handling
// requires_action rounds through the dispatcher. The tool loop is
// bounded: after MaxToolIterations rounds the turn fails closed.
func (m *Manager) executeRun(ctx context.Context, st *threadState) (string, error) {
	run, err := m.client.StartRun(ctx, st.threadID)
	if err != nil {
		return "", err
	}
	st.lastRunID = run.ID

	toolRounds := 0
	for {
		run, err = m.pollRun(ctx, st.threadID, run.ID)
		if err != nil {
			return "", err
		}

		switch run.Status {
		case provider.RunCompleted:
			st.lastRunID = ""
			return m.latestAssistantReply(ctx, st.threadID)

		case provider.RunRequiresAction:
			toolRounds++
			if toolRounds > m.cfg.MaxToolIterations {
				return "", fmt.Errorf("tool loop exceeded %d rounds", m.cfg.MaxToolIterations)
			}

			outputs, allFailed := m.dispatcher.Execute(ctx, run.ToolCalls)
			if allFailed {
				slog.Warn("agent: every tool call failed", "thread", st.threadID, "run", run.ID)
			}
			run, err = m.client.SubmitToolOutputs(ctx, st.threadID, run.ID, outputs)
			if err != nil {
				return "", err
			}

		default:
			// failed, cancelled, expired
			st.lastRunID = ""
			return "", fmt.Errorf("run ended in status %s", run.Status)
		}
	}
}

// pollRun waits for the run to leave the active states within the budget.
func (m *Manager) pollRun(ctx context.Context, threadID, runID string) (*provider.Run, error) {
	var last *provider.Run
	err := retry.Poll(ctx, m.cfg.PollInterval, m.cfg.PollBudget, func(ctx context.Context) (bool, error) {
		run, err := m.client.GetRun(ctx, threadID, runID)
		if err != nil {
			if provider.IsTransient(err) {
				return false, nil
			}
			return false, err
		}
		last = run
		return !run.Status.Active(), nil
	})
	if errors.Is(err, retry.ErrBudgetExceeded) {
		return nil, fmt.Errorf("run %s still active after %s", runID, m.cfg.PollBudget)
	}
	if err != nil {
		return nil, err
	}
	return last, nil
}

// latestAssistantReply reads the newest assistant message off the thread.
func (m *Manager) latestAssistantReply(ctx context.Context, threadID string) (string, error) {
	messages, err := m.client.ListMessages(ctx, threadID, 5)
	if err != nil {
		return "", err
	}
	for _, msg := range messages { // newest first
		if msg.Role == "assistant" && strings.TrimSpace(msg.Text) != "" {
			return msg.Text, nil
		}
	}
	return "", errors.New("run completed without an assistant reply")
}

// trimThread deletes the oldest messages until only CleanupLowWater
// remain. Runs while the user's lock is held, in the same cycle that
// crossed the threshold, so trimming is never deferred indefinitely.
func (m *Manager) trimThread(ctx context.Context, st *threadState) {
	messages, err := m.client.ListMessages(ctx, st.threadID, m.cfg.CleanupHighWater*2)
	if err != nil {
		slog.Warn("agent: list messages for trim failed", "thread", st.threadID, "error", err)
		return
	}

	excess := len(messages) - m.cfg.CleanupLowWater
	if excess <= 0 {
		st.messageCount = len(messages)
		return
	}

	// messages are newest first; delete from the tail (oldest).
	deleted := 0
	for i := len(messages) - 1; i >= 0 && deleted < excess; i-- {
		if err := m.client.DeleteMessage(ctx, st.threadID, messages[i].ID); err != nil {
			slog.Warn("agent: delete message failed", "thread", st.threadID, "message", messages[i].ID, "error", err)
			break
		}
		deleted++
	}

	st.messageCount = len(messages) - deleted
	st.lastCleanupAt = time.Now()
	slog.Info("agent: trimmed thread context",
		"thread", st.threadID, "deleted", deleted, "remaining", st.messageCount)
}

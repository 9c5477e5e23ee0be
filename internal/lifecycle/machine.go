// Package lifecycle implements the conversation assignment state
// machine: who owns a conversation (AI or a human agent), guarded
// status transitions, the auto-timeout sweep, and keyword escalation.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DavidFlores79/wadesk/internal/bus"
	"github.com/DavidFlores79/wadesk/internal/config"
	"github.com/DavidFlores79/wadesk/internal/provider"
	"github.com/DavidFlores79/wadesk/internal/store"
)

const (
	takeoverSummaryPrompt = "Summarize this customer support conversation for the human agent taking over. Include the customer's issue, what has been tried, and any commitments made. Be concise."
	releaseAnalysisPrompt = "Review this customer support interaction and assess its quality: responsiveness, tone, and whether the customer's issue was addressed. Two short paragraphs."

	transcriptTurns = 30
)

// TranscriptFunc fetches the recent transcript of a customer's thread,
// oldest first. Wired from the agent manager.
type TranscriptFunc func(ctx context.Context, customerID string, limit int) (string, error)

// Machine applies lifecycle actions to conversations. All status writes
// go through the store's guarded compare-and-update; on a stale read
// the action is re-planned once against fresh state before rejecting.
type Machine struct {
	conversations store.ConversationStore
	assignments   store.AssignmentStore
	summarizer    provider.Summarizer
	transcript    TranscriptFunc
	events        bus.EventPublisher
	router        bus.MessageRouter
	cfg           config.LifecycleConfig
	log           *slog.Logger

	resolutionConfirm string
	now               func() time.Time
}

// New builds a Machine. summarizer, transcript, events and router are
// optional; the corresponding effects degrade to no-ops when absent.
func New(stores *store.Stores, summarizer provider.Summarizer, transcript TranscriptFunc, events bus.EventPublisher, router bus.MessageRouter, cfg config.LifecycleConfig, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		conversations:     stores.Conversations,
		assignments:       stores.Assignments,
		summarizer:        summarizer,
		transcript:        transcript,
		events:            events,
		router:            router,
		cfg:               cfg,
		log:               log,
		resolutionConfirm: "Your conversation has been marked as resolved. Reply here if you need anything else and we will pick it right back up.",
		now:               time.Now,
	}
}

// SetTranscript wires the transcript source after construction. The
// machine is built before the agent manager (the escalate tool needs
// the machine), so the transcript hook arrives late.
func (m *Machine) SetTranscript(fn TranscriptFunc) {
	m.transcript = fn
}

// AssignResult is what the operator surface returns from Assign.
type AssignResult struct {
	Conversation *store.Conversation
	Summary      string // takeover summary, may be empty if generation failed
}

// Assign hands the conversation to a human agent, pausing the AI. If
// another agent holds it, this is a transfer: the previous assignment
// record is closed first. The takeover summary is generated before
// returning so the agent sees context immediately.
func (m *Machine) Assign(ctx context.Context, conversationID uuid.UUID, agentID string) (*AssignResult, error) {
	conv, tr, err := m.apply(ctx, conversationID, ActionAssign, agentID, false)
	if err != nil {
		return nil, err
	}

	now := m.now()
	for _, eff := range tr.Effects {
		switch eff {
		case EffectCloseAssignment:
			if _, err := m.assignments.CloseOpen(ctx, conv.ID, now, "transferred"); err != nil && !errors.Is(err, store.ErrNotFound) {
				m.log.Error("close assignment on transfer failed", "conversation", conv.ID, "error", err)
			}
		case EffectOpenAssignment:
			rec := &store.AssignmentRecord{
				ID:             uuid.Must(uuid.NewV7()),
				ConversationID: conv.ID,
				AgentID:        agentID,
				AssignedAt:     now,
			}
			if err := m.assignments.OpenAssignment(ctx, rec); err != nil {
				m.log.Error("open assignment record failed", "conversation", conv.ID, "agent", agentID, "error", err)
			}
		}
	}

	summary := m.takeoverSummary(ctx, conv.CustomerID)
	m.broadcast("conversation.assigned", map[string]any{
		"conversation_id": conv.ID.String(),
		"customer_id":     conv.CustomerID,
		"agent_id":        agentID,
	})
	return &AssignResult{Conversation: conv, Summary: summary}, nil
}

// Wait marks an assigned conversation as waiting on the customer. The
// agent keeps ownership; the next customer message flips it back to
// assigned.
func (m *Machine) Wait(ctx context.Context, conversationID uuid.UUID) (*store.Conversation, error) {
	conv, _, err := m.apply(ctx, conversationID, ActionWait, "", false)
	if err != nil {
		return nil, err
	}
	m.broadcast("conversation.waiting", map[string]any{
		"conversation_id": conv.ID.String(),
		"customer_id":     conv.CustomerID,
		"agent_id":        conv.AssignedAgent,
	})
	return conv, nil
}

// Release returns the conversation to the AI. The assignment record is
// closed with its duration, and the interaction-quality analysis runs
// in the background so the release call stays fast.
func (m *Machine) Release(ctx context.Context, conversationID uuid.UUID, reason string) (*store.Conversation, error) {
	conv, _, err := m.apply(ctx, conversationID, ActionRelease, "", false)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "released"
	}

	rec, err := m.assignments.CloseOpen(ctx, conv.ID, m.now(), reason)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.log.Error("close assignment record failed", "conversation", conv.ID, "error", err)
		}
	} else {
		go m.releaseAnalysis(conv.CustomerID, rec.ID)
	}

	m.broadcast("conversation.released", map[string]any{
		"conversation_id": conv.ID.String(),
		"customer_id":     conv.CustomerID,
		"reason":          reason,
	})
	return conv, nil
}

// Resolve marks the conversation resolved and tells the customer. A new
// inbound message reopens it; otherwise the sweep closes it after the
// resolved timeout.
func (m *Machine) Resolve(ctx context.Context, conversationID uuid.UUID) (*store.Conversation, error) {
	conv, tr, err := m.apply(ctx, conversationID, ActionResolve, "", false)
	if err != nil {
		return nil, err
	}
	m.finishResolve(ctx, conv, tr)
	return conv, nil
}

// resolveTimedOut is the sweep's resolve. It commits only while the
// conversation still holds the status the sweep listed it under: a
// concurrent manual action changes the status, the guard fails, and
// the conversation is skipped this cycle. Never re-planned.
func (m *Machine) resolveTimedOut(ctx context.Context, conversationID uuid.UUID, expected store.Status) error {
	conv, tr, err := m.applyFrom(ctx, conversationID, ActionResolve, expected)
	if err != nil {
		return err
	}
	m.finishResolve(ctx, conv, tr)
	return nil
}

func (m *Machine) finishResolve(ctx context.Context, conv *store.Conversation, tr Transition) {
	for _, eff := range tr.Effects {
		switch eff {
		case EffectCloseAssignment:
			if _, err := m.assignments.CloseOpen(ctx, conv.ID, m.now(), "resolved"); err != nil && !errors.Is(err, store.ErrNotFound) {
				m.log.Error("close assignment on resolve failed", "conversation", conv.ID, "error", err)
			}
		case EffectNotifyCustomer:
			if m.router != nil {
				m.router.PublishOutbound(bus.OutboundMessage{
					Channel: "whatsapp",
					To:      conv.CustomerID,
					Content: m.resolutionConfirm,
				})
			}
		}
	}

	m.broadcast("conversation.resolved", map[string]any{
		"conversation_id": conv.ID.String(),
		"customer_id":     conv.CustomerID,
	})
}

// Close finishes the conversation. Without force only resolved
// conversations close; force closes from any non-terminal status.
func (m *Machine) Close(ctx context.Context, conversationID uuid.UUID, force bool) (*store.Conversation, error) {
	conv, tr, err := m.apply(ctx, conversationID, ActionClose, "", force)
	if err != nil {
		return nil, err
	}
	m.finishClose(ctx, conv, tr, force)
	return conv, nil
}

// closeTimedOut is the sweep's close: resolved conversations only, and
// only while they are still resolved. Same skip-on-race rule as
// resolveTimedOut.
func (m *Machine) closeTimedOut(ctx context.Context, conversationID uuid.UUID) error {
	conv, tr, err := m.applyFrom(ctx, conversationID, ActionClose, store.StatusResolved)
	if err != nil {
		return err
	}
	m.finishClose(ctx, conv, tr, false)
	return nil
}

func (m *Machine) finishClose(ctx context.Context, conv *store.Conversation, tr Transition, force bool) {
	for _, eff := range tr.Effects {
		if eff == EffectCloseAssignment {
			if _, err := m.assignments.CloseOpen(ctx, conv.ID, m.now(), "closed"); err != nil && !errors.Is(err, store.ErrNotFound) {
				m.log.Error("close assignment on close failed", "conversation", conv.ID, "error", err)
			}
		}
	}

	m.broadcast("conversation.closed", map[string]any{
		"conversation_id": conv.ID.String(),
		"customer_id":     conv.CustomerID,
		"forced":          force,
	})
}

// Reopen brings a closed conversation back to open with the AI enabled.
func (m *Machine) Reopen(ctx context.Context, conversationID uuid.UUID, reason string) (*store.Conversation, error) {
	conv, _, err := m.apply(ctx, conversationID, ActionReopen, "", false)
	if err != nil {
		return nil, err
	}
	m.broadcast("conversation.reopened", map[string]any{
		"conversation_id": conv.ID.String(),
		"customer_id":     conv.CustomerID,
		"reason":          reason,
	})
	return conv, nil
}

// EnsureConversation returns the customer's active conversation,
// creating an open one when none exists and reopening via a fresh
// record when the last one is closed.
func (m *Machine) EnsureConversation(ctx context.Context, customerID string) (*store.Conversation, error) {
	conv, err := m.conversations.FindActiveByCustomer(ctx, customerID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := m.now()
	conv = &store.Conversation{
		ID:            uuid.Must(uuid.NewV7()),
		CustomerID:    customerID,
		Status:        store.StatusOpen,
		Priority:      store.PriorityNormal,
		AIEnabled:     true,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.conversations.Create(ctx, conv); err != nil {
		// Another flush, or another gateway instance, may have created it
		// first; the storage unique guard rejects the second insert.
		if existing, ferr := m.conversations.FindActiveByCustomer(ctx, customerID); ferr == nil {
			return existing, nil
		}
		return nil, err
	}
	m.broadcast("conversation.opened", map[string]any{
		"conversation_id": conv.ID.String(),
		"customer_id":     customerID,
	})
	return conv, nil
}

// NoteCustomerMessage records inbound activity: bumps LastMessageAt and
// flips resolved conversations back to open.
func (m *Machine) NoteCustomerMessage(ctx context.Context, conv *store.Conversation, at time.Time) error {
	if err := m.conversations.TouchLastMessage(ctx, conv.ID, at); err != nil {
		return err
	}
	switch conv.Status {
	case store.StatusResolved:
		upd := store.StatusUpdate{
			From:      store.StatusResolved,
			To:        store.StatusOpen,
			AIEnabled: true,
		}
		err := m.conversations.UpdateStatusIf(ctx, conv.ID, upd)
		if errors.Is(err, store.ErrStaleStatus) {
			return nil // someone else already moved it
		}
		if err == nil {
			conv.Status = store.StatusOpen
			conv.AIEnabled = true
			m.broadcast("conversation.reopened", map[string]any{
				"conversation_id": conv.ID.String(),
				"customer_id":     conv.CustomerID,
				"reason":          "customer_message",
			})
		}
		return err
	case store.StatusWaiting:
		// The customer came back; hand the conversation back to its agent.
		upd := store.StatusUpdate{
			From:          store.StatusWaiting,
			To:            store.StatusAssigned,
			AssignedAgent: conv.AssignedAgent,
		}
		err := m.conversations.UpdateStatusIf(ctx, conv.ID, upd)
		if errors.Is(err, store.ErrStaleStatus) {
			return nil
		}
		if err == nil {
			conv.Status = store.StatusAssigned
		}
		return err
	default:
		return nil
	}
}

// EscalateByCustomer raises the customer's active conversation to high
// priority and suggests a human takeover. Used by the escalate tool and
// the inbound keyword detector. Idempotent on priority.
func (m *Machine) EscalateByCustomer(ctx context.Context, customerID, reason string) error {
	conv, err := m.conversations.FindActiveByCustomer(ctx, customerID)
	if err != nil {
		return fmt.Errorf("escalate: %w", err)
	}
	if conv.Priority != store.PriorityHigh {
		if err := m.conversations.UpdatePriority(ctx, conv.ID, store.PriorityHigh); err != nil {
			return fmt.Errorf("escalate: %w", err)
		}
	}
	m.broadcast("conversation.escalated", map[string]any{
		"conversation_id": conv.ID.String(),
		"customer_id":     customerID,
		"reason":          reason,
	})
	m.log.Info("conversation escalated", "conversation", conv.ID, "customer", customerID, "reason", reason)
	return nil
}

// apply plans and commits an action. On ErrStaleStatus it re-reads and
// re-plans exactly once; a second conflict surfaces as a rejection.
func (m *Machine) apply(ctx context.Context, id uuid.UUID, action Action, agentID string, force bool) (*store.Conversation, Transition, error) {
	for attempt := 0; attempt < 2; attempt++ {
		conv, err := m.conversations.Get(ctx, id)
		if err != nil {
			return nil, Transition{}, err
		}
		tr, err := plan(action, conv, agentID, force)
		if err != nil {
			return nil, Transition{}, err
		}
		err = m.conversations.UpdateStatusIf(ctx, id, tr.Update)
		if errors.Is(err, store.ErrStaleStatus) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, Transition{}, err
		}
		conv.Status = tr.To
		conv.AssignedAgent = tr.Update.AssignedAgent
		conv.AIEnabled = tr.Update.AIEnabled
		conv.UpdatedAt = m.now()
		return conv, tr, nil
	}
	return nil, Transition{}, store.ErrStaleStatus
}

// applyFrom plans and commits an action only while the conversation is
// still in the expected status. Unlike apply it never re-plans: a
// different observed status, or a guarded update lost to a concurrent
// writer, surfaces as ErrStaleStatus so the caller skips.
func (m *Machine) applyFrom(ctx context.Context, id uuid.UUID, action Action, expected store.Status) (*store.Conversation, Transition, error) {
	conv, err := m.conversations.Get(ctx, id)
	if err != nil {
		return nil, Transition{}, err
	}
	if conv.Status != expected {
		return nil, Transition{}, store.ErrStaleStatus
	}
	tr, err := plan(action, conv, "", false)
	if err != nil {
		return nil, Transition{}, err
	}
	if err := m.conversations.UpdateStatusIf(ctx, id, tr.Update); err != nil {
		return nil, Transition{}, err
	}
	conv.Status = tr.To
	conv.AssignedAgent = tr.Update.AssignedAgent
	conv.AIEnabled = tr.Update.AIEnabled
	conv.UpdatedAt = m.now()
	return conv, tr, nil
}

func (m *Machine) takeoverSummary(ctx context.Context, customerID string) string {
	if m.summarizer == nil || m.transcript == nil {
		return ""
	}
	transcript, err := m.transcript(ctx, customerID, transcriptTurns)
	if err != nil {
		m.log.Warn("transcript fetch for takeover summary failed", "customer", customerID, "error", err)
		return ""
	}
	summary, err := m.summarizer.Summarize(ctx, takeoverSummaryPrompt, transcript)
	if err != nil {
		m.log.Warn("takeover summary failed", "customer", customerID, "error", err)
		return ""
	}
	return summary
}

func (m *Machine) releaseAnalysis(customerID string, recordID uuid.UUID) {
	if m.summarizer == nil || m.transcript == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	transcript, err := m.transcript(ctx, customerID, transcriptTurns)
	if err != nil {
		m.log.Warn("transcript fetch for release analysis failed", "customer", customerID, "error", err)
		return
	}
	analysis, err := m.summarizer.Summarize(ctx, releaseAnalysisPrompt, transcript)
	if err != nil {
		m.log.Warn("release analysis failed", "customer", customerID, "error", err)
		return
	}
	if err := m.assignments.SetAnalysis(ctx, recordID, analysis); err != nil {
		m.log.Error("store release analysis failed", "record", recordID, "error", err)
	}
}

func (m *Machine) broadcast(name string, payload map[string]any) {
	if m.events == nil {
		return
	}
	m.events.Broadcast(bus.Event{Name: name, Payload: payload})
}

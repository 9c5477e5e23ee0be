// Package store defines the durable entities and the store interfaces
// the orchestration core writes through. Two backends exist: sqlite
// (default, single instance) and pg (shared across instances). All
// status mutations go through guarded compare-and-update, not long-held
// locks, so concurrent operator actions stay safe on either backend.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrStaleStatus is returned by guarded updates when the expected
	// prior status no longer matches. Callers re-read and either no-op
	// or reject; they never overwrite blindly.
	ErrStaleStatus = errors.New("store: stale status")

	// ErrOpenAssignmentExists is returned when opening an assignment for
	// a conversation that already has one open.
	ErrOpenAssignmentExists = errors.New("store: open assignment exists")

	// ErrActiveConversationExists is returned when creating a conversation
	// for a customer who already has a non-terminal one. Backed by a
	// partial unique index so two gateway instances cannot both create.
	ErrActiveConversationExists = errors.New("store: active conversation exists")
)

// Status is a conversation lifecycle status.
type Status string

const (
	StatusOpen     Status = "open"
	StatusAssigned Status = "assigned"
	StatusWaiting  Status = "waiting"
	StatusResolved Status = "resolved"
	StatusClosed   Status = "closed"
)

// Terminal reports whether a status admits no customer-driven activity.
func (s Status) Terminal() bool {
	return s == StatusClosed
}

// Priority levels for conversations.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Conversation is the authoritative record of who owns a customer
// conversation right now. At most one non-terminal conversation exists
// per customer.
type Conversation struct {
	ID            uuid.UUID
	CustomerID    string // channel-level customer ref (wa_id)
	Status        Status
	AssignedAgent string // empty when unassigned
	Priority      string
	AIEnabled     bool
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StatusUpdate is the payload of a guarded status transition.
type StatusUpdate struct {
	From          Status
	To            Status
	AssignedAgent string
	AIEnabled     bool
}

// AssignmentRecord tracks one human-agent ownership interval of a
// conversation. For a given conversation at most one record has a zero
// ReleasedAt.
type AssignmentRecord struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	AgentID        string
	AssignedAt     time.Time
	ReleasedAt     time.Time // zero while open
	ReleaseReason  string
	Duration       time.Duration
	Analysis       string // interaction-quality analysis, populated async
}

// Open reports whether the assignment has not been released yet.
func (r *AssignmentRecord) Open() bool {
	return r.ReleasedAt.IsZero()
}

// ThreadRecord maps a customer to their provider-side conversational
// thread. Memory is a cache; this record is authoritative across restarts.
type ThreadRecord struct {
	UserID        string
	ThreadID      string
	MessageCount  int
	LastCleanupAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Ticket is a support ticket opened by the create_ticket tool.
type Ticket struct {
	ID         uuid.UUID
	CustomerID string
	Subject    string
	Detail     string
	CreatedAt  time.Time
}

// ConversationStore persists conversations.
type ConversationStore interface {
	Create(ctx context.Context, conv *Conversation) error
	Get(ctx context.Context, id uuid.UUID) (*Conversation, error)
	// FindActiveByCustomer returns the customer's single non-terminal
	// conversation, or ErrNotFound.
	FindActiveByCustomer(ctx context.Context, customerID string) (*Conversation, error)
	// UpdateStatusIf applies upd only while the stored status still equals
	// upd.From; otherwise it returns ErrStaleStatus.
	UpdateStatusIf(ctx context.Context, id uuid.UUID, upd StatusUpdate) error
	UpdatePriority(ctx context.Context, id uuid.UUID, priority string) error
	TouchLastMessage(ctx context.Context, id uuid.UUID, at time.Time) error
	// ListStale returns conversations in status whose UpdatedAt is older
	// than cutoff, for the auto-timeout sweep.
	ListStale(ctx context.Context, status Status, cutoff time.Time) ([]*Conversation, error)
}

// AssignmentStore persists assignment records.
type AssignmentStore interface {
	// OpenAssignment inserts a new open record; fails with
	// ErrOpenAssignmentExists if one is already open for the conversation.
	OpenAssignment(ctx context.Context, rec *AssignmentRecord) error
	GetOpen(ctx context.Context, conversationID uuid.UUID) (*AssignmentRecord, error)
	// CloseOpen releases the conversation's open record, stamping
	// ReleasedAt, Duration and the reason, and returns the closed record.
	CloseOpen(ctx context.Context, conversationID uuid.UUID, releasedAt time.Time, reason string) (*AssignmentRecord, error)
	SetAnalysis(ctx context.Context, id uuid.UUID, analysis string) error
	ListForConversation(ctx context.Context, conversationID uuid.UUID) ([]*AssignmentRecord, error)
}

// ThreadStore persists customer→thread mappings.
type ThreadStore interface {
	Get(ctx context.Context, userID string) (*ThreadRecord, error)
	Put(ctx context.Context, rec *ThreadRecord) error
	UpdateCounters(ctx context.Context, userID string, messageCount int, lastCleanupAt time.Time) error
}

// TicketStore persists support tickets.
type TicketStore interface {
	Create(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, id uuid.UUID) (*Ticket, error)
}

// Stores aggregates all store interfaces for wiring.
type Stores struct {
	Conversations ConversationStore
	Assignments   AssignmentStore
	Threads       ThreadStore
	Tickets       TicketStore
}

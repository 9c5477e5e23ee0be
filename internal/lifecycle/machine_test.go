package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/DavidFlores79/wadesk/internal/bus"
	"github.com/DavidFlores79/wadesk/internal/config"
	"github.com/DavidFlores79/wadesk/internal/store"
)

// memConversationStore is an in-memory store.ConversationStore.
type memConversationStore struct {
	mu    sync.Mutex
	convs map[uuid.UUID]*store.Conversation
}

func newMemConversationStore() *memConversationStore {
	return &memConversationStore{convs: make(map[uuid.UUID]*store.Conversation)}
}

func (s *memConversationStore) Create(_ context.Context, conv *store.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Mirrors the backends' partial unique index on active conversations.
	for _, c := range s.convs {
		if c.CustomerID == conv.CustomerID && !c.Status.Terminal() {
			return store.ErrActiveConversationExists
		}
	}
	cp := *conv
	s.convs[conv.ID] = &cp
	return nil
}

func (s *memConversationStore) Get(_ context.Context, id uuid.UUID) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (s *memConversationStore) FindActiveByCustomer(_ context.Context, customerID string) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.convs {
		if conv.CustomerID == customerID && !conv.Status.Terminal() {
			cp := *conv
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memConversationStore) UpdateStatusIf(_ context.Context, id uuid.UUID, upd store.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return store.ErrNotFound
	}
	if conv.Status != upd.From {
		return store.ErrStaleStatus
	}
	conv.Status = upd.To
	conv.AssignedAgent = upd.AssignedAgent
	conv.AIEnabled = upd.AIEnabled
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *memConversationStore) UpdatePriority(_ context.Context, id uuid.UUID, priority string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return store.ErrNotFound
	}
	conv.Priority = priority
	return nil
}

func (s *memConversationStore) TouchLastMessage(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return store.ErrNotFound
	}
	conv.LastMessageAt = at
	return nil
}

func (s *memConversationStore) ListStale(_ context.Context, status store.Status, cutoff time.Time) ([]*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Conversation
	for _, conv := range s.convs {
		if conv.Status == status && conv.UpdatedAt.Before(cutoff) {
			cp := *conv
			out = append(out, &cp)
		}
	}
	return out, nil
}

// setStatus force-sets state for test arrangement, bypassing guards.
func (s *memConversationStore) setStatus(id uuid.UUID, status store.Status, agent string, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.convs[id]
	conv.Status = status
	conv.AssignedAgent = agent
	conv.UpdatedAt = updatedAt
}

// memAssignmentStore is an in-memory store.AssignmentStore.
type memAssignmentStore struct {
	mu      sync.Mutex
	records []*store.AssignmentRecord
}

func (s *memAssignmentStore) OpenAssignment(_ context.Context, rec *store.AssignmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ConversationID == rec.ConversationID && r.Open() {
			return store.ErrOpenAssignmentExists
		}
	}
	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

func (s *memAssignmentStore) GetOpen(_ context.Context, conversationID uuid.UUID) (*store.AssignmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ConversationID == conversationID && r.Open() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memAssignmentStore) CloseOpen(_ context.Context, conversationID uuid.UUID, releasedAt time.Time, reason string) (*store.AssignmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ConversationID == conversationID && r.Open() {
			r.ReleasedAt = releasedAt
			r.ReleaseReason = reason
			r.Duration = releasedAt.Sub(r.AssignedAt)
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memAssignmentStore) SetAnalysis(_ context.Context, id uuid.UUID, analysis string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			r.Analysis = analysis
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *memAssignmentStore) ListForConversation(_ context.Context, conversationID uuid.UUID) ([]*store.AssignmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.AssignmentRecord
	for _, r := range s.records {
		if r.ConversationID == conversationID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// eventRecorder captures broadcast events.
type eventRecorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *eventRecorder) Subscribe(string, bus.EventHandler) {}
func (r *eventRecorder) Unsubscribe(string)                {}
func (r *eventRecorder) Broadcast(event bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

func testLifecycleConfig() config.LifecycleConfig {
	return config.LifecycleConfig{
		OpenMaxAgeHours:     24,
		AssignedMaxAgeHours: 12,
		WaitingMaxAgeHours:  12,
		ResolvedMaxAgeHours: 48,
		EscalationKeywords:  []string{"urgent", "refund"},
	}
}

type fixture struct {
	machine *Machine
	convs   *memConversationStore
	assigns *memAssignmentStore
	events  *eventRecorder
	router  *bus.MessageBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	convs := newMemConversationStore()
	assigns := &memAssignmentStore{}
	events := &eventRecorder{}
	router := bus.NewMessageBus()
	stores := &store.Stores{Conversations: convs, Assignments: assigns}
	m := New(stores, nil, nil, events, router, testLifecycleConfig(), nil)
	return &fixture{machine: m, convs: convs, assigns: assigns, events: events, router: router}
}

func (f *fixture) openConversation(t *testing.T, customerID string) *store.Conversation {
	t.Helper()
	conv, err := f.machine.EnsureConversation(context.Background(), customerID)
	if err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}
	return conv
}

// raceyConversationStore runs a callback after the first ListStale,
// simulating an operator acting between the sweep's listing and its
// status mutation.
type raceyConversationStore struct {
	*memConversationStore
	afterListStale func()
}

func (s *raceyConversationStore) ListStale(ctx context.Context, status store.Status, cutoff time.Time) ([]*store.Conversation, error) {
	out, err := s.memConversationStore.ListStale(ctx, status, cutoff)
	if s.afterListStale != nil {
		cb := s.afterListStale
		s.afterListStale = nil
		cb()
	}
	return out, err
}

// blindFindStore misses the customer's conversation on the first
// lookup, simulating another gateway instance creating it between this
// instance's find and its insert.
type blindFindStore struct {
	*memConversationStore
	misses int
}

func (s *blindFindStore) FindActiveByCustomer(ctx context.Context, customerID string) (*store.Conversation, error) {
	if s.misses > 0 {
		s.misses--
		return nil, store.ErrNotFound
	}
	return s.memConversationStore.FindActiveByCustomer(ctx, customerID)
}

func TestEnsureConversationIdempotent(t *testing.T) {
	f := newFixture(t)
	first := f.openConversation(t, "555")
	second := f.openConversation(t, "555")
	if first.ID != second.ID {
		t.Fatal("second ensure should return the existing conversation")
	}
	if first.Status != store.StatusOpen || !first.AIEnabled {
		t.Fatalf("new conversation should be open with AI enabled: %+v", first)
	}
}

func TestAssignAndRelease(t *testing.T) {
	f := newFixture(t)
	conv := f.openConversation(t, "555")
	ctx := context.Background()

	result, err := f.machine.Assign(ctx, conv.ID, "agent-1")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if result.Conversation.Status != store.StatusAssigned {
		t.Fatalf("status = %s", result.Conversation.Status)
	}
	if result.Conversation.AIEnabled {
		t.Fatal("AI must pause on assignment")
	}

	open, err := f.assigns.GetOpen(ctx, conv.ID)
	if err != nil {
		t.Fatalf("no open assignment record: %v", err)
	}
	if open.AgentID != "agent-1" {
		t.Fatalf("record agent = %s", open.AgentID)
	}

	released, err := f.machine.Release(ctx, conv.ID, "shift_end")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if released.Status != store.StatusOpen || !released.AIEnabled {
		t.Fatalf("release should reopen with AI: %+v", released)
	}

	if _, err := f.assigns.GetOpen(ctx, conv.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("assignment record should be closed after release")
	}
	records, _ := f.assigns.ListForConversation(ctx, conv.ID)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].ReleaseReason != "shift_end" {
		t.Fatalf("release reason = %q", records[0].ReleaseReason)
	}
	if records[0].Duration < 0 {
		t.Fatalf("duration = %v", records[0].Duration)
	}
}

func TestEnsureConversationSurvivesCreateRace(t *testing.T) {
	convs := newMemConversationStore()
	blind := &blindFindStore{memConversationStore: convs, misses: 1}
	stores := &store.Stores{Conversations: blind, Assignments: &memAssignmentStore{}}
	m := New(stores, nil, nil, &eventRecorder{}, bus.NewMessageBus(), testLifecycleConfig(), nil)

	// Another instance already holds the customer's active conversation.
	existing := &store.Conversation{
		ID:         uuid.Must(uuid.NewV7()),
		CustomerID: "555",
		Status:     store.StatusOpen,
		Priority:   store.PriorityNormal,
		AIEnabled:  true,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := convs.Create(context.Background(), existing); err != nil {
		t.Fatalf("seed: %v", err)
	}

	conv, err := m.EnsureConversation(context.Background(), "555")
	if err != nil {
		t.Fatalf("EnsureConversation must absorb the unique-guard rejection: %v", err)
	}
	if conv.ID != existing.ID {
		t.Fatalf("got conversation %s, want the existing %s", conv.ID, existing.ID)
	}
}

func TestWaitAndCustomerReturn(t *testing.T) {
	f := newFixture(t)
	conv := f.openConversation(t, "555")
	ctx := context.Background()

	// Only assigned conversations can wait.
	_, err := f.machine.Wait(ctx, conv.ID)
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("wait on open conversation: expected TransitionError, got %v", err)
	}

	if _, err := f.machine.Assign(ctx, conv.ID, "agent-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	waiting, err := f.machine.Wait(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if waiting.Status != store.StatusWaiting || waiting.AssignedAgent != "agent-1" || waiting.AIEnabled {
		t.Fatalf("waiting conversation = %+v", waiting)
	}

	// The agent keeps their open assignment record while waiting.
	if _, err := f.assigns.GetOpen(ctx, conv.ID); err != nil {
		t.Fatalf("open assignment lost while waiting: %v", err)
	}

	// A customer message hands the conversation back to the agent.
	if err := f.machine.NoteCustomerMessage(ctx, waiting, time.Now()); err != nil {
		t.Fatalf("NoteCustomerMessage: %v", err)
	}
	if waiting.Status != store.StatusAssigned {
		t.Fatalf("status after customer return = %s", waiting.Status)
	}
}

func TestAssignTransfer(t *testing.T) {
	f := newFixture(t)
	conv := f.openConversation(t, "555")
	ctx := context.Background()

	if _, err := f.machine.Assign(ctx, conv.ID, "agent-1"); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	if _, err := f.machine.Assign(ctx, conv.ID, "agent-2"); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	open, err := f.assigns.GetOpen(ctx, conv.ID)
	if err != nil {
		t.Fatalf("no open record after transfer: %v", err)
	}
	if open.AgentID != "agent-2" {
		t.Fatalf("open record agent = %s", open.AgentID)
	}

	records, _ := f.assigns.ListForConversation(ctx, conv.ID)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	var closed *store.AssignmentRecord
	for _, r := range records {
		if !r.Open() {
			closed = r
		}
	}
	if closed == nil || closed.AgentID != "agent-1" || closed.ReleaseReason != "transferred" {
		t.Fatalf("previous record not closed as transfer: %+v", closed)
	}
}

func TestAssignToSameAgentRejected(t *testing.T) {
	f := newFixture(t)
	conv := f.openConversation(t, "555")
	ctx := context.Background()

	if _, err := f.machine.Assign(ctx, conv.ID, "agent-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	_, err := f.machine.Assign(ctx, conv.ID, "agent-1")
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestReleaseWithoutAgentRejected(t *testing.T) {
	f := newFixture(t)
	conv := f.openConversation(t, "555")

	_, err := f.machine.Release(context.Background(), conv.ID, "")
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestResolveAndClose(t *testing.T) {
	f := newFixture(t)
	conv := f.openConversation(t, "555")
	ctx := context.Background()

	resolved, err := f.machine.Resolve(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != store.StatusResolved {
		t.Fatalf("status = %s", resolved.Status)
	}

	// Resolution confirmation goes out to the customer.
	octx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	out, ok := f.router.ConsumeOutbound(octx)
	if !ok {
		t.Fatal("no resolution confirmation published")
	}
	if out.To != "555" || out.Content == "" {
		t.Fatalf("unexpected confirmation: %+v", out)
	}

	closed, err := f.machine.Close(ctx, conv.ID, false)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.Status != store.StatusClosed {
		t.Fatalf("status = %s", closed.Status)
	}
}

func TestCloseRequiresForceWhenNotResolved(t *testing.T) {
	f := newFixture(t)
	conv := f.openConversation(t, "555")
	ctx := context.Background()

	_, err := f.machine.Close(ctx, conv.ID, false)
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}

	closed, err := f.machine.Close(ctx, conv.ID, true)
	if err != nil {
		t.Fatalf("force close: %v", err)
	}
	if closed.Status != store.StatusClosed {
		t.Fatalf("status = %s", closed.Status)
	}
}

func TestActionsOnClosedConversationRejected(t *testing.T) {
	f := newFixture(t)
	conv := f.openConversation(t, "555")
	ctx := context.Background()

	if _, err := f.machine.Close(ctx, conv.ID, true); err != nil {
		t.Fatalf("close: %v", err)
	}

	var te *TransitionError
	if _, err := f.machine.Assign(ctx, conv.ID, "agent-1"); !errors.As(err, &te) {
		t.Fatalf("assign on closed should reject, got %v", err)
	}
	if _, err := f.machine.Resolve(ctx, conv.ID); !errors.As(err, &te) {
		t.Fatalf("resolve on closed should reject, got %v", err)
	}
	if _, err := f.machine.Close(ctx, conv.ID, true); !errors.As(err, &te) {
		t.Fatalf("double close should reject, got %v", err)
	}
}

func TestReopenClosedConversation(t *testing.T) {
	f := newFixture(t)
	conv := f.openConversation(t, "555")
	ctx := context.Background()

	f.machine.Close(ctx, conv.ID, true)
	reopened, err := f.machine.Reopen(ctx, conv.ID, "customer returned")
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	if reopened.Status != store.StatusOpen || !reopened.AIEnabled {
		t.Fatalf("reopen state: %+v", reopened)
	}
}

func TestCustomerMessageReopensResolved(t *testing.T) {
	f := newFixture(t)
	conv := f.openConversation(t, "555")
	ctx := context.Background()

	f.machine.Resolve(ctx, conv.ID)
	conv, _ = f.convs.Get(ctx, conv.ID)

	if err := f.machine.NoteCustomerMessage(ctx, conv, time.Now()); err != nil {
		t.Fatalf("NoteCustomerMessage: %v", err)
	}
	fresh, _ := f.convs.Get(ctx, conv.ID)
	if fresh.Status != store.StatusOpen || !fresh.AIEnabled {
		t.Fatalf("resolved conversation should reopen on customer message: %+v", fresh)
	}
}

func TestEscalateByCustomer(t *testing.T) {
	f := newFixture(t)
	conv := f.openConversation(t, "555")
	ctx := context.Background()

	if err := f.machine.EscalateByCustomer(ctx, "555", "keyword: urgent"); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	fresh, _ := f.convs.Get(ctx, conv.ID)
	if fresh.Priority != store.PriorityHigh {
		t.Fatalf("priority = %s", fresh.Priority)
	}

	found := false
	for _, name := range f.events.names() {
		if name == "conversation.escalated" {
			found = true
		}
	}
	if !found {
		t.Fatal("escalation event not broadcast")
	}
}

func TestSweepResolvesAndClosesStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := time.Now().Add(-72 * time.Hour)

	staleOpen := f.openConversation(t, "open-customer")
	f.convs.setStatus(staleOpen.ID, store.StatusOpen, "", old)

	staleAssigned := f.openConversation(t, "assigned-customer")
	if _, err := f.machine.Assign(ctx, staleAssigned.ID, "agent-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	f.convs.setStatus(staleAssigned.ID, store.StatusAssigned, "agent-1", old)

	staleResolved := f.openConversation(t, "resolved-customer")
	if _, err := f.machine.Resolve(ctx, staleResolved.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	f.convs.setStatus(staleResolved.ID, store.StatusResolved, "", old)

	fresh := f.openConversation(t, "fresh-customer")

	NewSweeper(f.machine).Sweep(ctx)

	if c, _ := f.convs.Get(ctx, staleOpen.ID); c.Status != store.StatusResolved {
		t.Fatalf("stale open → %s, want resolved", c.Status)
	}
	if c, _ := f.convs.Get(ctx, staleAssigned.ID); c.Status != store.StatusResolved {
		t.Fatalf("stale assigned → %s, want resolved", c.Status)
	}
	if _, err := f.assigns.GetOpen(ctx, staleAssigned.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("stale assignment record should be closed by the sweep")
	}
	if c, _ := f.convs.Get(ctx, staleResolved.ID); c.Status != store.StatusClosed {
		t.Fatalf("stale resolved → %s, want closed", c.Status)
	}
	if c, _ := f.convs.Get(ctx, fresh.ID); c.Status != store.StatusOpen {
		t.Fatalf("fresh conversation touched by sweep: %s", c.Status)
	}
}

func TestSweepSkipsConcurrentlyAssignedConversation(t *testing.T) {
	ctx := context.Background()
	convs := newMemConversationStore()
	racey := &raceyConversationStore{memConversationStore: convs}
	assigns := &memAssignmentStore{}
	stores := &store.Stores{Conversations: racey, Assignments: assigns}
	m := New(stores, nil, nil, &eventRecorder{}, bus.NewMessageBus(), testLifecycleConfig(), nil)

	conv, err := m.EnsureConversation(ctx, "555")
	if err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}
	convs.setStatus(conv.ID, store.StatusOpen, "", time.Now().Add(-72*time.Hour))

	// An operator assigns between the sweep's listing and its mutation.
	racey.afterListStale = func() {
		if _, err := m.Assign(ctx, conv.ID, "agent-1"); err != nil {
			t.Errorf("assign during sweep: %v", err)
		}
	}

	NewSweeper(m).Sweep(ctx)

	got, err := convs.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != store.StatusAssigned || got.AssignedAgent != "agent-1" {
		t.Fatalf("sweep must skip the concurrently assigned conversation, got %+v", got)
	}
	if _, err := assigns.GetOpen(ctx, conv.ID); err != nil {
		t.Fatalf("agent's fresh assignment record must survive the sweep: %v", err)
	}
}

func TestDetectorMatchesKeywords(t *testing.T) {
	d := NewDetector([]string{"Urgent", " refund "})

	tests := []struct {
		text string
		want string
	}{
		{"this is URGENT please", "urgent"},
		{"I want a ReFuNd now", "refund"},
		{"all good thanks", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := d.Match(tt.text); got != tt.want {
			t.Errorf("Match(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

// Package agent owns one conversational-AI thread per customer:
// creation and durable recovery, single-flight turn execution with
// bounded polling, the tool-call loop, and context trimming.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DavidFlores79/wadesk/internal/provider"
	"github.com/DavidFlores79/wadesk/internal/store"
	"github.com/DavidFlores79/wadesk/internal/tools"
)

// Config holds the thread-lifecycle tunables.
type Config struct {
	PollInterval      time.Duration // run poll interval
	PollBudget        time.Duration // total wait for a run to finish or free up
	AppendRetries     int           // message-append attempts on transient conflict
	MaxToolIterations int           // requires_action rounds per turn before failing closed
	CleanupHighWater  int           // message count that triggers a trim
	CleanupLowWater   int           // messages kept after a trim
}

// DefaultConfig returns the standard tunables.
func DefaultConfig() Config {
	return Config{
		PollInterval:      time.Second,
		PollBudget:        15 * time.Second,
		AppendRetries:     3,
		MaxToolIterations: 3,
		CleanupHighWater:  15,
		CleanupLowWater:   10,
	}
}

// Manager owns the per-customer thread state. Memory is a cache; the
// thread store is authoritative and survives process restarts.
type Manager struct {
	client     provider.ThreadClient
	threads    store.ThreadStore
	dispatcher *tools.Dispatcher
	cfg        Config

	mu    sync.Mutex
	cache map[string]*threadState

	runMu sync.Map // userID → *sync.Mutex (single-flight per user)
}

// threadState is the in-memory view of one customer's thread.
// Mutated only while the user's run lock is held.
type threadState struct {
	threadID      string
	messageCount  int
	lastCleanupAt time.Time
	lastRunID     string
}

// NewManager creates a thread manager.
func NewManager(client provider.ThreadClient, threads store.ThreadStore, dispatcher *tools.Dispatcher, cfg Config) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PollBudget <= 0 {
		cfg.PollBudget = 15 * time.Second
	}
	if cfg.AppendRetries <= 0 {
		cfg.AppendRetries = 3
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = 3
	}
	if cfg.CleanupHighWater <= 0 {
		cfg.CleanupHighWater = 15
	}
	if cfg.CleanupLowWater <= 0 || cfg.CleanupLowWater >= cfg.CleanupHighWater {
		cfg.CleanupLowWater = cfg.CleanupHighWater * 2 / 3
	}

	return &Manager{
		client:     client,
		threads:    threads,
		dispatcher: dispatcher,
		cfg:        cfg,
		cache:      make(map[string]*threadState),
	}
}

// lockFor returns the user's run mutex, creating it on first use.
func (m *Manager) lockFor(userID string) *sync.Mutex {
	muIface, _ := m.runMu.LoadOrStore(userID, &sync.Mutex{})
	return muIface.(*sync.Mutex)
}

// getOrCreate returns the user's thread state: cache first, then the
// durable store, then a fresh remote thread persisted before use.
// Caller must hold the user's run lock.
func (m *Manager) getOrCreate(ctx context.Context, userID string) (*threadState, error) {
	m.mu.Lock()
	if st, ok := m.cache[userID]; ok {
		m.mu.Unlock()
		return st, nil
	}
	m.mu.Unlock()

	rec, err := m.threads.Get(ctx, userID)
	switch {
	case err == nil:
		st := &threadState{
			threadID:      rec.ThreadID,
			messageCount:  rec.MessageCount,
			lastCleanupAt: rec.LastCleanupAt,
		}
		m.putCache(userID, st)
		return st, nil
	case errors.Is(err, store.ErrNotFound):
		// fall through to remote creation
	default:
		return nil, fmt.Errorf("load thread mapping: %w", err)
	}

	threadID, err := m.client.CreateThread(ctx)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	if err := m.threads.Put(ctx, &store.ThreadRecord{UserID: userID, ThreadID: threadID}); err != nil {
		return nil, fmt.Errorf("persist thread mapping: %w", err)
	}
	slog.Info("agent: created thread", "user", userID, "thread", threadID)

	st := &threadState{threadID: threadID}
	m.putCache(userID, st)
	return st, nil
}

func (m *Manager) putCache(userID string, st *threadState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[userID] = st
}

// persistCounters writes the message count and cleanup stamp back to
// the durable mapping. Failures are logged, not fatal: the counters
// only tune trimming, the thread id itself is already durable.
func (m *Manager) persistCounters(ctx context.Context, userID string, st *threadState) {
	if err := m.threads.UpdateCounters(ctx, userID, st.messageCount, st.lastCleanupAt); err != nil {
		slog.Warn("agent: persist thread counters failed", "user", userID, "error", err)
	}
}

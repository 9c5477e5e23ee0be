package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DavidFlores79/wadesk/internal/agent"
	"github.com/DavidFlores79/wadesk/internal/bus"
	"github.com/DavidFlores79/wadesk/internal/config"
	"github.com/DavidFlores79/wadesk/internal/lifecycle"
	"github.com/DavidFlores79/wadesk/internal/store"
)

// consumer drains inbound messages from the bus and drives the
// orchestration pipeline: dedup, per-customer batching, conversation
// bookkeeping, escalation detection, and the assistant turn.
type consumer struct {
	cfg      *config.Config
	msgBus   *bus.MessageBus
	manager  *agent.Manager
	machine  *lifecycle.Machine
	stores   *store.Stores
	detector *lifecycle.Detector
	fallback string
}

func newConsumer(cfg *config.Config, msgBus *bus.MessageBus, manager *agent.Manager, machine *lifecycle.Machine, stores *store.Stores) *consumer {
	fallback := cfg.Assistant.FallbackReply
	if fallback == "" {
		fallback = config.Default().Assistant.FallbackReply
	}
	return &consumer{
		cfg:      cfg,
		msgBus:   msgBus,
		manager:  manager,
		machine:  machine,
		stores:   stores,
		detector: lifecycle.NewDetector(cfg.Lifecycle.EscalationKeywords),
		fallback: fallback,
	}
}

// Run consumes inbound messages until ctx is cancelled. Each message
// passes the dedup cache, then the debouncer merges rapid messages
// from the same customer; the merged batch flows through process.
func (c *consumer) Run(ctx context.Context) error {
	slog.Info("inbound message consumer started")

	dedupe := bus.NewDedupeCache(c.cfg.Ingest.DedupTTL(), c.cfg.Ingest.DedupMaxEntries)

	debouncer := bus.NewInboundDebouncer(c.cfg.Ingest.BatchWindow(), func(msg bus.InboundMessage) {
		c.process(ctx, msg)
	})
	defer debouncer.Stop()

	slog.Info("inbound pipeline configured",
		"dedup_ttl", c.cfg.Ingest.DedupTTL(),
		"batch_window", c.cfg.Ingest.BatchWindow(),
	)

	for {
		msg, ok := c.msgBus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound message consumer stopped")
			return ctx.Err()
		}

		if msg.MessageID != "" {
			dedupeKey := fmt.Sprintf("%s|%s|%s", msg.Channel, msg.SenderID, msg.MessageID)
			if dedupe.IsDuplicate(dedupeKey) {
				slog.Debug("dedup: skipping duplicate message", "key", dedupeKey)
				continue
			}
		}

		debouncer.Enqueue(msg)
	}
}

// process handles one (possibly merged) inbound message. Called from
// the debouncer flush, serialized per customer.
func (c *consumer) process(ctx context.Context, msg bus.InboundMessage) {
	conv, err := c.machine.EnsureConversation(ctx, msg.SenderID)
	if err != nil {
		slog.Error("ensure conversation failed", "customer", msg.SenderID, "error", err)
		return
	}
	if err := c.machine.NoteCustomerMessage(ctx, conv, time.Now()); err != nil {
		slog.Warn("record customer activity failed", "conversation", conv.ID, "error", err)
	}

	// Dashboards see the raw customer message regardless of who answers.
	c.msgBus.Broadcast(bus.Event{Name: "message.received", Payload: map[string]any{
		"conversation_id": conv.ID.String(),
		"customer_id":     msg.SenderID,
		"content":         msg.Content,
	}})

	if keyword := c.detector.Match(msg.Content); keyword != "" {
		if err := c.machine.EscalateByCustomer(ctx, msg.SenderID, "keyword: "+keyword); err != nil {
			slog.Warn("keyword escalation failed", "customer", msg.SenderID, "error", err)
		}
	}

	// A human agent owns the conversation: the assistant stays silent
	// and the agent replies through the operator API.
	if !conv.AIEnabled {
		slog.Debug("assistant paused, message relayed to agent",
			"conversation", conv.ID,
			"agent", conv.AssignedAgent,
		)
		return
	}

	reply, err := c.manager.RunTurn(ctx, msg.SenderID, msg.Content)
	if err != nil {
		if errors.Is(err, agent.ErrTurnFailed) {
			slog.Error("assistant turn failed, sending fallback", "customer", msg.SenderID, "error", err)
			c.msgBus.PublishOutbound(bus.OutboundMessage{
				Channel: msg.Channel,
				To:      msg.SenderID,
				Content: c.fallback,
			})
			return
		}
		slog.Error("assistant turn error", "customer", msg.SenderID, "error", err)
		return
	}
	if reply == "" {
		slog.Debug("assistant produced empty reply, suppressing", "customer", msg.SenderID)
		return
	}

	c.msgBus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		To:      msg.SenderID,
		Content: reply,
	})
}

// Package events forwards conversation lifecycle events to an AMQP
// exchange so external systems (CRM, analytics, agent dashboards not
// connected over WebSocket) can react to assignments and escalations.
// The publisher is optional: without WADESK_AMQP_URL nothing runs.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/DavidFlores79/wadesk/internal/bus"
	"github.com/DavidFlores79/wadesk/internal/config"
)

const subscriberID = "amqp-publisher"

// Publisher bridges bus events onto an AMQP topic exchange. Publishing
// is fire-and-forget: a broker outage loses events but never blocks or
// fails the operator action that produced them.
type Publisher struct {
	cfg      config.EventsConfig
	events   bus.EventPublisher
	log      *slog.Logger
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	pending  chan bus.Event
	shutdown context.CancelFunc
}

// NewPublisher connects to the broker and declares the exchange.
func NewPublisher(cfg config.EventsConfig, events bus.EventPublisher, log *slog.Logger) (*Publisher, error) {
	if cfg.AMQPURL == "" {
		return nil, fmt.Errorf("events: amqp url not configured")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "wadesk.events"
	}
	if log == nil {
		log = slog.Default()
	}

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("events: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("events: declare exchange: %w", err)
	}

	return &Publisher{
		cfg:     cfg,
		events:  events,
		log:     log,
		conn:    conn,
		ch:      ch,
		pending: make(chan bus.Event, 256),
	}, nil
}

// Start subscribes to the bus and begins draining events to the broker.
func (p *Publisher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.shutdown = cancel

	p.events.Subscribe(subscriberID, func(event bus.Event) {
		select {
		case p.pending <- event:
		default:
			p.log.Warn("amqp event buffer full, dropping event", "event", event.Name)
		}
	})

	go p.drain(ctx)
	p.log.Info("amqp event publisher started", "exchange", p.cfg.Exchange)
}

// Close unsubscribes and tears down the connection.
func (p *Publisher) Close() {
	p.events.Unsubscribe(subscriberID)
	if p.shutdown != nil {
		p.shutdown()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

func (p *Publisher) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-p.pending:
			if err := p.publish(ctx, event); err != nil {
				p.log.Error("amqp publish failed", "event", event.Name, "error", err)
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, event bus.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(pubCtx, p.cfg.Exchange, event.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Type:         event.Name,
		Timestamp:    time.Now().UTC(),
		AppId:        "wadesk",
	})
}

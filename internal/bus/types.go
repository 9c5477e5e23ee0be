package bus

import "context"

// InboundMessage represents a customer message received from a channel.
type InboundMessage struct {
	Channel   string            `json:"channel"`
	MessageID string            `json:"message_id"`
	SenderID  string            `json:"sender_id"` // customer phone / wa_id
	Content   string            `json:"content"`
	Type      string            `json:"type,omitempty"` // text, image, audio, ...
	Timestamp int64             `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage represents a message to be delivered to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	To       string            `json:"to"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Event represents a server-side event broadcast to connected UIs
// (assignment changes, escalations, relayed customer messages).
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts fire-and-forget event broadcast + subscription.
// Publishers never block on slow or absent subscribers.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound message routing between the
// webhook surface, the orchestration core, and the channel manager.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	ConsumeOutbound(ctx context.Context) (OutboundMessage, bool)
}

// Package channels defines the messaging-channel abstraction and the
// manager that routes outbound messages from the bus to channels.
package channels

import (
	"context"
	"sync"

	"github.com/DavidFlores79/wadesk/internal/bus"
)

// Channel is a messaging transport. WhatsApp is the only production
// channel today; the interface leaves room for more.
type Channel interface {
	// Name returns the channel identifier used in bus messages.
	Name() string

	// Start begins any background work the channel needs.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers one outbound message to the customer.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the channel is started.
	IsRunning() bool
}

// BaseChannel carries the running flag shared by channel implementations.
type BaseChannel struct {
	name    string
	mu      sync.RWMutex
	running bool
}

// NewBaseChannel constructs the embedded base for a named channel.
func NewBaseChannel(name string) *BaseChannel {
	return &BaseChannel{name: name}
}

// Name returns the channel identifier.
func (b *BaseChannel) Name() string { return b.name }

// IsRunning reports whether the channel is started.
func (b *BaseChannel) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// SetRunning records the channel's running state.
func (b *BaseChannel) SetRunning(running bool) {
	b.mu.Lock()
	b.running = running
	b.mu.Unlock()
}

// Truncate shortens s for log previews.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

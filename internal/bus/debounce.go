package bus

import (
	"strings"
	"sync"
	"time"
)

// InboundDebouncer coalesces rapid successive messages from one sender
// into a single logical turn. The first message for a sender arms a
// timer; each further message within the window appends and re-arms it
// (debounce, not fixed delay). When the timer fires the merged message
// is handed to the flush callback exactly once.
//
// Flushes for one sender never run concurrently: a message arriving
// while a flush is in progress starts a new batch whose own flush waits
// for the running one to finish.
type InboundDebouncer struct {
	window time.Duration
	flush  func(InboundMessage)

	mu      sync.Mutex
	pending map[string]*pendingBatch
	stopped bool

	flushMu sync.Map // senderID → *sync.Mutex
}

type pendingBatch struct {
	first InboundMessage
	parts []string
	timer *time.Timer
	gen   int // bumped on every re-arm; a fire carrying an older gen is stale
}

// NewInboundDebouncer creates a debouncer with the given quiet period.
func NewInboundDebouncer(window time.Duration, flush func(InboundMessage)) *InboundDebouncer {
	return &InboundDebouncer{
		window:  window,
		flush:   flush,
		pending: make(map[string]*pendingBatch),
	}
}

// Enqueue adds a message to the sender's batch, creating one if needed.
func (d *InboundDebouncer) Enqueue(msg InboundMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	key := msg.SenderID
	if b, ok := d.pending[key]; ok {
		b.parts = append(b.parts, msg.Content)
		b.first.MessageID = msg.MessageID // latest id wins for reply correlation
		// Re-arm with a new generation. If the old timer already fired
		// and is waiting on the lock, its stale generation makes that
		// fire a no-op, so this message still gets a full quiet period.
		b.gen++
		gen := b.gen
		b.timer.Stop()
		b.timer = time.AfterFunc(d.window, func() { d.fire(key, gen) })
		return
	}

	b := &pendingBatch{
		first: msg,
		parts: []string{msg.Content},
	}
	b.timer = time.AfterFunc(d.window, func() { d.fire(key, 0) })
	d.pending[key] = b
}

// Stop cancels all pending timers and flushes outstanding batches
// synchronously, so no input is lost on shutdown.
func (d *InboundDebouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	remaining := make([]*pendingBatch, 0, len(d.pending))
	for key, b := range d.pending {
		b.timer.Stop()
		remaining = append(remaining, b)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	for _, b := range remaining {
		d.deliver(b)
	}
}

// fire runs on the timer goroutine when a sender's quiet period elapses.
// gen identifies the arming; the batch may have been re-armed since.
func (d *InboundDebouncer) fire(key string, gen int) {
	d.mu.Lock()
	b, ok := d.pending[key]
	if !ok || b.gen != gen {
		d.mu.Unlock()
		return
	}
	// The batch leaves the map before the handler runs: anything arriving
	// from here on starts a fresh batch instead of joining this flush.
	delete(d.pending, key)
	d.mu.Unlock()

	d.deliver(b)
}

func (d *InboundDebouncer) deliver(b *pendingBatch) {
	key := b.first.SenderID
	muIface, _ := d.flushMu.LoadOrStore(key, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)

	mu.Lock()
	defer mu.Unlock()

	merged := b.first
	merged.Content = strings.Join(b.parts, "\n")
	d.flush(merged)
}

// PendingSenders reports how many senders have an unflushed batch.
func (d *InboundDebouncer) PendingSenders() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

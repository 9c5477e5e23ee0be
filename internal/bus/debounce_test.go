package bus

import (
	"sync"
	"testing"
	"time"
)

func collectFlushes() (*sync.Mutex, *[]InboundMessage, func(InboundMessage)) {
	var mu sync.Mutex
	var got []InboundMessage
	return &mu, &got, func(msg InboundMessage) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	}
}

func waitForFlushes(t *testing.T, mu *sync.Mutex, got *[]InboundMessage, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(*got)
		mu.Unlock()
		if n >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d flushes", want)
}

func TestDebouncerMergesRapidMessages(t *testing.T) {
	mu, got, flush := collectFlushes()
	d := NewInboundDebouncer(50*time.Millisecond, flush)
	defer d.Stop()

	d.Enqueue(InboundMessage{Channel: "whatsapp", SenderID: "555", MessageID: "a", Content: "hola"})
	d.Enqueue(InboundMessage{Channel: "whatsapp", SenderID: "555", MessageID: "b", Content: "tengo un problema"})
	d.Enqueue(InboundMessage{Channel: "whatsapp", SenderID: "555", MessageID: "c", Content: "con mi pedido"})

	waitForFlushes(t, mu, got, 1)

	mu.Lock()
	defer mu.Unlock()
	if len(*got) != 1 {
		t.Fatalf("expected 1 flush, got %d", len(*got))
	}
	merged := (*got)[0]
	want := "hola\ntengo un problema\ncon mi pedido"
	if merged.Content != want {
		t.Fatalf("merged content = %q, want %q", merged.Content, want)
	}
	if merged.MessageID != "c" {
		t.Fatalf("merged MessageID = %q, want latest %q", merged.MessageID, "c")
	}
}

func TestDebouncerStaleFireIsNoOp(t *testing.T) {
	mu, got, flush := collectFlushes()
	d := NewInboundDebouncer(time.Hour, flush) // timers never fire on their own
	defer d.Stop()

	d.Enqueue(InboundMessage{SenderID: "555", MessageID: "a", Content: "first"})
	d.Enqueue(InboundMessage{SenderID: "555", MessageID: "b", Content: "second"}) // re-arms, gen 1

	// A timer armed before the second message fires late: it must not
	// flush the batch the second message joined.
	d.fire("555", 0)

	mu.Lock()
	if len(*got) != 0 {
		mu.Unlock()
		t.Fatalf("stale fire flushed the batch: %d flushes", len(*got))
	}
	mu.Unlock()
	if d.PendingSenders() != 1 {
		t.Fatalf("pending senders = %d, want 1", d.PendingSenders())
	}

	// The current arming flushes the whole batch once.
	d.fire("555", 1)
	waitForFlushes(t, mu, got, 1)

	mu.Lock()
	defer mu.Unlock()
	if (*got)[0].Content != "first\nsecond" {
		t.Fatalf("merged content = %q", (*got)[0].Content)
	}
}

func TestDebouncerSeparatesSenders(t *testing.T) {
	mu, got, flush := collectFlushes()
	d := NewInboundDebouncer(30*time.Millisecond, flush)
	defer d.Stop()

	d.Enqueue(InboundMessage{SenderID: "alice", Content: "hi"})
	d.Enqueue(InboundMessage{SenderID: "bob", Content: "hey"})

	waitForFlushes(t, mu, got, 2)

	mu.Lock()
	defer mu.Unlock()
	senders := map[string]string{}
	for _, m := range *got {
		senders[m.SenderID] = m.Content
	}
	if senders["alice"] != "hi" || senders["bob"] != "hey" {
		t.Fatalf("unexpected flushes: %v", senders)
	}
}

func TestDebouncerTimerResetsOnActivity(t *testing.T) {
	mu, got, flush := collectFlushes()
	d := NewInboundDebouncer(80*time.Millisecond, flush)
	defer d.Stop()

	d.Enqueue(InboundMessage{SenderID: "x", Content: "one"})
	time.Sleep(50 * time.Millisecond)
	d.Enqueue(InboundMessage{SenderID: "x", Content: "two"})
	time.Sleep(50 * time.Millisecond)

	// 100ms total elapsed but the quiet period restarted at 50ms, so no
	// flush yet.
	mu.Lock()
	if len(*got) != 0 {
		mu.Unlock()
		t.Fatal("flush fired before the quiet period elapsed")
	}
	mu.Unlock()

	waitForFlushes(t, mu, got, 1)
	mu.Lock()
	defer mu.Unlock()
	if (*got)[0].Content != "one\ntwo" {
		t.Fatalf("merged content = %q", (*got)[0].Content)
	}
}

func TestDebouncerNewBatchDuringFlush(t *testing.T) {
	var mu sync.Mutex
	var got []string
	flushing := make(chan struct{})
	release := make(chan struct{})
	first := true

	d := NewInboundDebouncer(20*time.Millisecond, func(msg InboundMessage) {
		mu.Lock()
		blockThis := first
		first = false
		mu.Unlock()
		if blockThis {
			close(flushing)
			<-release
		}
		mu.Lock()
		got = append(got, msg.Content)
		mu.Unlock()
	})
	defer d.Stop()

	d.Enqueue(InboundMessage{SenderID: "x", Content: "batch1"})
	<-flushing

	// First flush is in progress; this message must start a new batch.
	d.Enqueue(InboundMessage{SenderID: "x", Content: "batch2"})
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 flushes, got %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	// Per-sender flushes are serialized, so order is deterministic.
	if got[0] != "batch1" || got[1] != "batch2" {
		t.Fatalf("flush order = %v", got)
	}
}

func TestDebouncerStopFlushesPending(t *testing.T) {
	mu, got, flush := collectFlushes()
	d := NewInboundDebouncer(time.Hour, flush) // timer will never fire

	d.Enqueue(InboundMessage{SenderID: "x", Content: "pending"})
	if d.PendingSenders() != 1 {
		t.Fatalf("PendingSenders = %d, want 1", d.PendingSenders())
	}

	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(*got) != 1 || (*got)[0].Content != "pending" {
		t.Fatalf("Stop did not flush pending batch: %v", *got)
	}
}

func TestDebouncerEnqueueAfterStopIsDropped(t *testing.T) {
	mu, got, flush := collectFlushes()
	d := NewInboundDebouncer(10*time.Millisecond, flush)
	d.Stop()

	d.Enqueue(InboundMessage{SenderID: "x", Content: "late"})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(*got) != 0 {
		t.Fatalf("message accepted after Stop: %v", *got)
	}
}

package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	received := make(chan *Message, 1)
	sub, err := b.Subscribe(ctx, "devmate.project.p1", func(msg *Message) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, "devmate.project.p1", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg.Data) != "hello" {
			t.Errorf("unexpected payload: %s", msg.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemoryBusSubjectIsolation(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	received := make(chan *Message, 1)
	_, err := b.Subscribe(ctx, "devmate.project.p1", func(msg *Message) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := b.Publish(ctx, "devmate.project.p2", []byte("other room")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-received:
		t.Fatalf("should not receive cross-project message: %s", msg.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBusWildcard(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var subjects []string
	_, err := b.Subscribe(ctx, "devmate.project.*", func(msg *Message) {
		mu.Lock()
		subjects = append(subjects, msg.Subject)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	_ = b.Publish(ctx, "devmate.project.p1", []byte("a"))
	_ = b.Publish(ctx, "devmate.project.p2", []byte("b"))
	_ = b.Publish(ctx, "devmate.other", []byte("c"))

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(subjects)
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(subjects) != 2 {
		t.Errorf("expected 2 matched messages, got %d (%v)", len(subjects), subjects)
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	received := make(chan *Message, 1)
	sub, err := b.Subscribe(ctx, "devmate.project.p1", func(msg *Message) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	_ = b.Publish(ctx, "devmate.project.p1", []byte("late"))

	select {
	case <-received:
		t.Fatal("should not receive after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClosedBusRejectsOperations(t *testing.T) {
	b := NewMemoryBus()
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := b.Publish(context.Background(), "x", nil); err != ErrClosed {
		t.Errorf("expected ErrClosed on publish, got %v", err)
	}
	if _, err := b.Subscribe(context.Background(), "x", func(*Message) {}); err != ErrClosed {
		t.Errorf("expected ErrClosed on subscribe, got %v", err)
	}
	if err := b.Close(); err != ErrClosed {
		t.Errorf("expected ErrClosed on double close, got %v", err)
	}
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{"devmate.project.p1", "devmate.project.p1", true},
		{"devmate.project.*", "devmate.project.p1", true},
		{"devmate.project.*", "devmate.project.p1.extra", false},
		{"devmate.>", "devmate.project.p1.extra", true},
		{"devmate.project.p1", "devmate.project.p2", false},
	}
	for _, tt := range tests {
		if got := matchSubject(tt.pattern, tt.subject); got != tt.want {
			t.Errorf("matchSubject(%q, %q) = %v, want %v", tt.pattern, tt.subject, got, tt.want)
		}
	}
}

package events

import (
	"context"
	"testing"
	"time"

	"floorlend/core/types"
)

func TestBroadcasterDeliversToSubscribers(t *testing.T) {
	b := NewBroadcaster(2)
	first, cancelFirst := b.Subscribe(context.Background())
	second, cancelSecond := b.Subscribe(context.Background())
	defer cancelSecond()

	b.Emit(Wrap(&types.Event{Type: "pool.swapped"}))
	for _, ch := range []<-chan Event{first, second} {
		if evt := <-ch; evt.EventType() != "pool.swapped" {
			t.Fatalf("unexpected event %q", evt.EventType())
		}
	}

	cancelFirst()
	cancelFirst()
	if _, ok := <-first; ok {
		t.Fatalf("expected cancelled channel to be closed")
	}
	if got := b.Subscribers(); got != 1 {
		t.Fatalf("expected one subscriber, got %d", got)
	}
}

func TestBroadcasterDropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBroadcaster(1)
	ch, cancel := b.Subscribe(context.Background())
	defer cancel()

	b.Emit(Wrap(&types.Event{Type: "vault.deposited"}))
	b.Emit(Wrap(&types.Event{Type: "vault.withdrawn"}))
	if evt := <-ch; evt.EventType() != "vault.deposited" {
		t.Fatalf("expected the first event to be kept, got %q", evt.EventType())
	}
	select {
	case evt := <-ch:
		t.Fatalf("expected overflow to be dropped, got %q", evt.EventType())
	default:
	}
}

func TestBroadcasterUnsubscribesOnContextDone(t *testing.T) {
	b := NewBroadcaster(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber not removed after context cancellation")
	}
	if got := b.Subscribers(); got != 0 {
		t.Fatalf("expected no subscribers, got %d", got)
	}
}

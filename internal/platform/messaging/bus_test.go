package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"concord/contexts/governance/confidential-voting/ports"

	"go.uber.org/goleak"
)

func TestBusDeliversToEverySubscriber(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus([]string{"localhost:9092"}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu       sync.Mutex
		received = map[string][]string{}
		done     = make(chan struct{}, 4)
	)
	for _, group := range []string{"a", "b"} {
		group := group
		if err := bus.Subscribe(ctx, "ballot.cast", group, func(_ context.Context, event ports.EventEnvelope) error {
			mu.Lock()
			received[group] = append(received[group], event.EventID)
			mu.Unlock()
			done <- struct{}{}
			if group == "b" {
				return errors.New("handler failure is logged, not fatal")
			}
			return nil
		}); err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
	}

	for _, id := range []string{"evt-1", "evt-2"} {
		if err := bus.Publish(ctx, "ballot.cast", ports.EventEnvelope{EventID: id, EventType: "ballot.cast"}); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}
	if err := bus.Publish(ctx, "other.topic", ports.EventEnvelope{EventID: "ignored"}); err != nil {
		t.Fatalf("publish to empty topic failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d", i)
		}
	}
	cancel()
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	for _, group := range []string{"a", "b"} {
		ids := received[group]
		if len(ids) != 2 || ids[0] != "evt-1" || ids[1] != "evt-2" {
			t.Fatalf("group %s expected ordered delivery, got %v", group, ids)
		}
	}
}

func TestBusUnsubscribesOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := bus.Subscribe(ctx, "t", "g", func(context.Context, ports.EventEnvelope) error { return nil }); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	cancel()
	bus.Wait()

	bus.mu.RLock()
	remaining := len(bus.subscribers["t"])
	bus.mu.RUnlock()
	if remaining != 0 {
		t.Fatalf("expected subscriber removed, got %d", remaining)
	}
	if err := bus.Publish(context.Background(), "t", ports.EventEnvelope{EventID: "late"}); err != nil {
		t.Fatalf("publish after cancel failed: %v", err)
	}
}

func TestBusReportsFullSubscriber(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	if err := bus.Subscribe(ctx, "t", "g", func(context.Context, ports.EventEnvelope) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.Publish(ctx, "t", ports.EventEnvelope{EventID: "held"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler never started")
	}
	for i := 0; i < subscriberBuffer; i++ {
		if err := bus.Publish(ctx, "t", ports.EventEnvelope{EventID: "queued"}); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}
	if err := bus.Publish(ctx, "t", ports.EventEnvelope{EventID: "overflow"}); !errors.Is(err, ErrSubscriberBusy) {
		t.Fatalf("expected subscriber busy, got %v", err)
	}

	close(release)
	cancel()
	bus.Wait()
}

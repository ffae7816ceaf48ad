package memory

import (
	"context"
	"sync"

	"concord/contexts/governance/confidential-voting/ports"
)

type subscription struct {
	group   string
	handler func(context.Context, ports.EventEnvelope) error
}

// Bus delivers events to subscribers synchronously on the publishing
// goroutine. A handler error is returned to the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscription
	published   []ports.EventEnvelope
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]subscription)}
}

func (b *Bus) Publish(ctx context.Context, topic string, event ports.EventEnvelope) error {
	b.mu.Lock()
	b.published = append(b.published, event)
	subs := append([]subscription(nil), b.subscribers[topic]...)
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.handler(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) Subscribe(
	_ context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, ports.EventEnvelope) error,
) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], subscription{group: consumerGroup, handler: handler})
	return nil
}

// Published returns every event seen so far, optionally filtered by type.
func (b *Bus) Published(eventType string) []ports.EventEnvelope {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ports.EventEnvelope, 0, len(b.published))
	for _, event := range b.published {
		if eventType == "" || event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

var (
	_ ports.EventPublisher  = (*Bus)(nil)
	_ ports.EventSubscriber = (*Bus)(nil)
)

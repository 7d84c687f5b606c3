package audit

import (
	"context"
	"fmt"
	"sync"

	"task-service/internal/domain"

	log "github.com/sirupsen/logrus"
)

// Subscriber accepts change events from the bus. Receive is a hand-off and
// must not do the actual work inline.
type Subscriber interface {
	Receive(ctx context.Context, event domain.ChangeEvent) error
}

type subscription struct {
	name       string
	subscriber Subscriber
}

// Bus delivers every published change event to all registered subscribers.
// Events published while nobody is subscribed are dropped.
type Bus struct {
	mu          sync.RWMutex
	subscribers []subscription
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(name string, s Subscriber) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, subscription{name: name, subscriber: s})
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Publish never fails from the caller's point of view; hand-off errors are
// logged as publish failures.
func (b *Bus) Publish(ctx context.Context, event domain.ChangeEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.deliver(ctx, s, event); err != nil {
			failure := &domain.PublishFailure{Subscriber: s.name, Event: event, Err: err}
			log.WithError(failure).WithFields(log.Fields{
				"subscriber": s.name,
				"event_id":   event.ID,
				"entity":     event.EntityType,
				"entity_id":  event.EntityID,
				"action":     event.Action.Label(),
			}).Warn("Failed to publish change event")
		}
	}
}

func (b *Bus) deliver(ctx context.Context, s subscription, event domain.ChangeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return s.subscriber.Receive(ctx, event)
}

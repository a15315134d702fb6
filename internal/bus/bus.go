// Package bus is the in-process event dispatcher between the fleet runtime
// and its consumers (dashboard, chat connectors, log streams). Each
// subscriber owns a bounded queue; a slow subscriber loses its own oldest
// events and never blocks the publisher or its peers.
package bus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DefaultQueueSize is the per-subscriber buffer when the caller passes 0.
const DefaultQueueSize = 256

// Handler consumes one event. Panics are caught at the dispatch boundary and
// never reach other subscribers or the publisher.
type Handler func(Event)

// Bus is the topic dispatcher.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]*Subscription)}
}

// Subscription is one subscriber's queue and delivery loop.
type Subscription struct {
	id     string
	topics map[string]bool // nil = all topics
	queue  chan Event
	done   chan struct{}
	closed sync.Once

	bus *Bus

	// dropWarn throttles overflow warnings to one per second.
	dropWarn *rate.Limiter
	dropped  int
	dropMu   sync.Mutex
}

// Subscribe registers handler for the given topics (none = all) and starts
// its delivery goroutine.
func (b *Bus) Subscribe(topics []string, buffer int, handler Handler) *Subscription {
	sub := b.newSubscription(topics, buffer)
	go func() {
		for {
			select {
			case ev := <-sub.queue:
				sub.dispatch(handler, ev)
			case <-sub.done:
				// Drain what was queued before close.
				for {
					select {
					case ev := <-sub.queue:
						sub.dispatch(handler, ev)
					default:
						return
					}
				}
			}
		}
	}()
	return sub
}

// SubscribeChan registers a channel subscriber for iterator-style consumers.
// The caller reads Events() until it calls Close.
func (b *Bus) SubscribeChan(topics []string, buffer int) *Subscription {
	return b.newSubscription(topics, buffer)
}

func (b *Bus) newSubscription(topics []string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultQueueSize
	}
	sub := &Subscription{
		id:       uuid.NewString(),
		queue:    make(chan Event, buffer),
		done:     make(chan struct{}),
		bus:      b,
		dropWarn: rate.NewLimiter(rate.Limit(1), 1),
	}
	if len(topics) > 0 {
		sub.topics = make(map[string]bool, len(topics))
		for _, t := range topics {
			sub.topics[t] = true
		}
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Events exposes the queue for channel subscribers.
func (s *Subscription) Events() <-chan Event { return s.queue }

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close unsubscribes. Idempotent.
func (s *Subscription) Close() {
	s.closed.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) dispatch(handler Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus.handler_panic", "topic", ev.Topic, "subscriber", s.id, "panic", r)
		}
	}()
	handler(ev)
}

// Publish delivers an event to every matching subscriber. When a queue is
// full the subscriber's oldest event is dropped to make room.
func (b *Bus) Publish(topic string, payload any) {
	ev := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.topics != nil && !sub.topics[topic] {
			continue
		}
		sub.enqueue(ev)
	}
}

func (s *Subscription) enqueue(ev Event) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.queue <- ev:
		return
	default:
	}

	// Queue full: drop this subscriber's oldest and retry once. If the
	// consumer raced us and made room, the retry lands; otherwise the new
	// event is the one dropped.
	s.dropMu.Lock()
	select {
	case <-s.queue:
	default:
	}
	select {
	case s.queue <- ev:
	default:
	}
	s.dropped++
	n := s.dropped
	s.dropMu.Unlock()

	if s.dropWarn.Allow() {
		slog.Warn("bus.subscriber_overflow", "subscriber", s.id, "topic", ev.Topic, "dropped_total", n)
	}
}

// Close shuts every subscription down.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}

// Package bus provides a typed publish/subscribe fan-out for session,
// certificate and replay notifications.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/usestring/trafficlab/pkg/types"
)

// Handler receives published events. Handlers run on the publisher's
// goroutine and must not block.
type Handler func(types.Event)

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(ev types.Event)
}

type subscription struct {
	topics map[types.Topic]struct{}
	fn     Handler
}

func (s *subscription) wants(t types.Topic) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[t]
	return ok
}

// Bus is a synchronous in-process event bus.
type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscription
	next uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*subscription)}
}

// Subscribe registers fn for the given topics (all topics when none are
// given) and returns a function that removes the subscription.
func (b *Bus) Subscribe(fn Handler, topics ...types.Topic) (unsubscribe func()) {
	sub := &subscription{fn: fn}
	if len(topics) > 0 {
		sub.topics = make(map[types.Topic]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to every interested subscriber. A zero timestamp is
// filled in. A panicking handler is logged and does not affect the others.
func (b *Bus) Publish(ev types.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(ev.Topic) {
			targets = append(targets, s.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		deliver(fn, ev)
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func deliver(fn Handler, ev types.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				slog.String("topic", string(ev.Topic)),
				slog.Any("panic", r),
			)
		}
	}()
	fn(ev)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(types.Event) {}

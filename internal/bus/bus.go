// Package bus is the in-process event bus the daemon uses to fan engine and
// session events out to API watchers.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Bus delivers events to every subscription whose prefix matches the
// event kind. Delivery never blocks the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// Subscription receives matching events on C until Close.
type Subscription struct {
	C <-chan Event

	bus     *Bus
	prefix  string
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Publish sends evt to all matching subscriptions, stamping an id if it has
// none. A subscription whose buffer is full misses the event. A nil bus
// discards it.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscription for kinds starting with prefix; an
// empty prefix matches everything. bufSize bounds the backlog.
func (b *Bus) Subscribe(prefix string, bufSize int) *Subscription {
	ch := make(chan Event, bufSize)
	sub := &Subscription{C: ch, bus: b, prefix: prefix, ch: ch}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Dropped returns how many events missed this subscription.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes C. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

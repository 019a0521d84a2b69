package events

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Handler receives published events. Handlers run on the publisher's
// goroutine and must not block.
type Handler func(Event)

// BusStats counts bus activity since construction.
type BusStats struct {
	Subscribers int
	Published   uint64
	Delivered   uint64
	Panics      uint64
}

// Bus is a synchronous in-process publish/subscribe hub.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]Handler
	nextID uint64

	operations atomic.Uint64
	published  atomic.Uint64
	delivered  atomic.Uint64
	panics     atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]Handler)}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = fn
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

// Publish delivers ev to every subscriber in subscription order.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.published.Add(1)

	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	handlers := make([]Handler, 0, len(ids))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			log.Error().Str("component", "events").Str("event", ev.Kind.String()).Interface("panic", r).Msg("events.Bus handler panicked")
		}
	}()
	h(ev)
	b.delivered.Add(1)
}

// NextOperationID allocates an id that groups the events of one operation.
func (b *Bus) NextOperationID() uint64 {
	return b.operations.Add(1)
}

func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return BusStats{
		Subscribers: n,
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Panics:      b.panics.Load(),
	}
}

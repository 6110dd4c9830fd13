package events

import (
	"sync"

	"nftescrow/core/types"
)

const defaultSubscriberBuffer = 64

// Bus fans an event out to a fixed set of sinks and to any number of live
// subscribers. Sinks are called synchronously in registration order.
// Subscribers receive payloads on a buffered channel; a subscriber that falls
// behind loses events rather than blocking the ledger.
type Bus struct {
	sinks  []Emitter
	buffer int

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan *types.Event
}

// NewBus constructs a bus forwarding to the supplied sinks. Nil sinks are
// skipped.
func NewBus(buffer int, sinks ...Emitter) *Bus {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	filtered := make([]Emitter, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}
	return &Bus{
		sinks:  filtered,
		buffer: buffer,
		subs:   make(map[uint64]chan *types.Event),
	}
}

// Emit implements the Emitter interface.
func (b *Bus) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	for _, sink := range b.sinks {
		sink.Emit(evt)
	}
	payload := Payload(evt)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- payload.Clone():
		default:
		}
	}
}

// Subscribe registers a live subscriber. The returned cancel function must be
// called to release the channel; it is safe to call more than once.
func (b *Bus) Subscribe() (<-chan *types.Event, func()) {
	ch := make(chan *types.Event, b.buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers reports the number of live subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

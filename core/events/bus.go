package events

import (
	"sync"

	"jobmarket/core/types"
)

const defaultSubscriberBuffer = 64

// Bus delivers events to live subscribers. Slow subscribers drop events
// rather than stall the ledger; Dropped reports how many were lost.
type Bus struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]*subscriber
	dropped uint64
}

type subscriber struct {
	ch     chan *types.Event
	filter func(*types.Event) bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers a receiver. filter may be nil to receive everything.
// The returned cancel function closes the channel and is safe to call twice.
func (b *Bus) Subscribe(buffer int, filter func(*types.Event) bool) (<-chan *types.Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	sub := &subscriber{ch: make(chan *types.Event, buffer), filter: filter}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

func (b *Bus) Emit(evt Event) {
	if evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.filter != nil && !sub.filter(payload) {
			continue
		}
		select {
		case sub.ch <- payload.Clone():
		default:
			b.dropped++
		}
	}
}

// Dropped returns the number of events discarded for full subscribers.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Subscribers reports the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

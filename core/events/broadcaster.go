package events

import (
	"context"
	"sync"
)

const defaultSubscriberBuffer = 32

// Broadcaster fans events out to live subscribers. Emit never blocks: a
// subscriber whose buffer is full misses the event and is expected to catch
// up from durable storage.
type Broadcaster struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan Event
	buffer int
}

// NewBroadcaster returns a broadcaster whose subscriber channels hold buffer
// events. Non-positive sizes use a default.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broadcaster{subs: make(map[uint64]chan Event), buffer: buffer}
}

// Subscribe registers a subscriber. The returned cancel func closes the
// channel and is safe to call more than once; it also runs when ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
			b.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel
}

// Emit implements Emitter.
func (b *Broadcaster) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub <- evt:
		default:
		}
	}
}

// Subscribers reports how many subscribers are registered.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

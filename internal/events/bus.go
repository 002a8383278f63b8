package events

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultRecentCapacity   = 256
	defaultSubscriberBuffer = 128
)

// Bus fans events out to subscribers and keeps the most recent ones.
type Bus struct {
	mu       sync.Mutex
	capacity int
	buffer   []Event
	nextSeq  uint64
	subs     map[*Subscription]struct{}
	closed   bool
}

// NewBus constructs a bus retaining up to capacity recent events.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultRecentCapacity
	}
	return &Bus{capacity: capacity, subs: make(map[*Subscription]struct{})}
}

// Publish stamps evt and delivers it to every subscriber without blocking.
// It returns the stamped event. Publishing on a nil or closed bus is a no-op.
func (b *Bus) Publish(evt Event) Event {
	if b == nil {
		return evt
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return evt
	}
	b.nextSeq++
	evt.Seq = b.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	if len(b.buffer) == b.capacity {
		copy(b.buffer, b.buffer[1:])
		b.buffer = b.buffer[:b.capacity-1]
	}
	b.buffer = append(b.buffer, evt)

	// Delivery happens under the lock so every subscriber sees the same order.
	for sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			sub.dropped.Add(1)
		}
	}
	return evt
}

// Subscribe registers a subscriber with the given channel capacity. A nil
// bus returns a nil subscription.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if b == nil {
		return nil
	}
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	sub := &Subscription{bus: b, ch: make(chan Event, buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		sub.closed = true
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Recent returns up to limit of the newest retained events, oldest first.
func (b *Bus) Recent(limit int) []Event {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.buffer) {
		limit = len(b.buffer)
	}
	out := make([]Event, limit)
	copy(out, b.buffer[len(b.buffer)-limit:])
	return out
}

// LastSequence reports the sequence number of the newest published event.
func (b *Bus) LastSequence() uint64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextSeq
}

// SubscriberCount reports the number of open subscriptions.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription channel. Later publishes are dropped.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.closed = true
		close(sub.ch)
	}
	b.subs = nil
}

// Subscription is one consumer of the bus.
type Subscription struct {
	bus     *Bus
	ch      chan Event
	dropped atomic.Uint64
	closed  bool // guarded by bus.mu
}

// C returns the delivery channel. It is closed by Close or Bus.Close.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped reports how many events were discarded because the channel was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// TakeDropped returns the drop count and resets it.
func (s *Subscription) TakeDropped() uint64 {
	return s.dropped.Swap(0)
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(s.bus.subs, s)
	close(s.ch)
}

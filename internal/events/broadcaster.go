package events

import (
	"sync"
	"sync/atomic"
)

// Subscriber receives emitted events. Its buffer absorbs short stalls in
// a WebSocket writer.
type Subscriber chan Event

const subscriberBuffer = 64

// Broadcaster fans events out to live subscribers. A full subscriber
// loses the event rather than blocking Emit.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[Subscriber]struct{}
	dropped atomic.Uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[Subscriber]struct{})}
}

var broadcaster = NewBroadcaster()

func (b *Broadcaster) Subscribe() Subscriber {
	ch := make(Subscriber, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe closes sub. Channels already closed by CloseAll are ignored.
func (b *Broadcaster) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub)
	}
}

func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub)
	}
}

func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribe registers a subscriber on the process broadcaster.
func Subscribe() Subscriber { return broadcaster.Subscribe() }

func Unsubscribe(sub Subscriber) { broadcaster.Unsubscribe(sub) }

// CloseAllSubscribers closes every subscriber so WebSocket writers exit
// on shutdown.
func CloseAllSubscribers() { broadcaster.CloseAll() }

func SubscriberCount() int { return broadcaster.Len() }

func DroppedCount() uint64 { return broadcaster.Dropped() }

func broadcast(e Event) { broadcaster.Publish(e) }

// RecentEvents returns up to n of the newest buffered events, oldest
// first. n <= 0 returns everything buffered.
func RecentEvents(n int) []Event {
	all := buffer.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

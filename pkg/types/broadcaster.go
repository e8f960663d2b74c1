package types

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 256

// Broadcaster provides in-memory pub/sub for session events. Publish never
// blocks: events are dropped for subscribers whose channels are full.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool
}

type subscriber struct {
	ch   chan *Event
	done chan struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers a subscriber and returns its channel and subscription
// ID. The subscription is removed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	sub := &subscriber{ch: ch, done: make(chan struct{})}
	b.subscribers[subID] = sub
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			b.Unsubscribe(subID)
		case <-sub.done:
		}
	}()

	return ch, subID
}

// Publish sends an event to all subscribers.
func (b *Broadcaster) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	sub.close()
}

// Close closes all subscriber channels. Later subscriptions receive a closed
// channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, sub := range b.subscribers {
		sub.close()
		delete(b.subscribers, subID)
	}
	b.closed = true
}

func (s *subscriber) close() {
	close(s.done)
	close(s.ch)
}

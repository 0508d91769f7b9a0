// Package notify fans out index results to in-process subscribers.
package notify

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/chronicle/internal/indexer"
)

// DefaultBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing results rather than blocking the
// scheduler.
const DefaultBuffer = 16

// Subscriber is one registered listener.
type Subscriber struct {
	ID string
	C  <-chan *indexer.IndexResult

	ch chan *indexer.IndexResult
}

// Broadcaster manages subscribers and result fan-out.
type Broadcaster struct {
	subscribers map[string]*Subscriber
	mu          sync.RWMutex
	nextID      int
	buffer      int
	closed      bool
}

// NewBroadcaster creates a broadcaster with the default buffer depth.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
		buffer:      DefaultBuffer,
	}
}

// Subscribe registers a listener and returns its receive channel handle.
func (b *Broadcaster) Subscribe() *Subscriber {
	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("subscriber-%d", b.nextID)
	ch := make(chan *indexer.IndexResult, b.buffer)
	sub := &Subscriber{ID: id, C: ch, ch: ch}
	if b.closed {
		close(ch)
	} else {
		b.subscribers[id] = sub
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	log.Debug().
		Str("subscriberId", id).
		Int("totalSubscribers", count).
		Msg("notify subscriber added")

	return sub
}

// Unsubscribe removes a listener and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	_, exists := b.subscribers[sub.ID]
	if exists {
		delete(b.subscribers, sub.ID)
		// Closed under the same lock Publish sends under, so a send can
		// never land on a closed channel.
		close(sub.ch)
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	log.Debug().
		Str("subscriberId", sub.ID).
		Int("totalSubscribers", count).
		Msg("notify subscriber removed")
}

// Publish delivers a result to every subscriber without blocking. Slow
// subscribers with a full buffer are skipped.
func (b *Broadcaster) Publish(result *indexer.IndexResult) {
	// Sends stay under the read lock; channels are only closed under the
	// write lock, so a send can never race a close. The sends never
	// block, so the lock is held only briefly.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- result:
		default:
			log.Warn().
				Str("subscriberId", sub.ID).
				Str("sessionId", result.SessionID).
				Msg("subscriber buffer full, dropping index result")
		}
	}
}

// SubscriberCount returns the number of registered listeners.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Publish after Close is a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()
}

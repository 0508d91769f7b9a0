package notify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/chronicle/internal/indexer"
)

// BroadcasterSuite is a test suite for Broadcaster operations.
type BroadcasterSuite struct {
	suite.Suite
	broadcaster *Broadcaster
}

func (s *BroadcasterSuite) SetupTest() {
	s.broadcaster = NewBroadcaster()
}

func TestBroadcasterSuite(t *testing.T) {
	suite.Run(t, new(BroadcasterSuite))
}

func (s *BroadcasterSuite) TestNewBroadcaster() {
	b := NewBroadcaster()
	s.NotNil(b)
	s.Equal(0, b.SubscriberCount())
}

func (s *BroadcasterSuite) TestSubscribe() {
	sub := s.broadcaster.Subscribe()
	s.NotNil(sub)
	s.NotEmpty(sub.ID)
	s.NotNil(sub.C)
	s.Equal(1, s.broadcaster.SubscriberCount())
}

func (s *BroadcasterSuite) TestUnsubscribe() {
	sub := s.broadcaster.Subscribe()
	s.Equal(1, s.broadcaster.SubscriberCount())

	s.broadcaster.Unsubscribe(sub)
	s.Equal(0, s.broadcaster.SubscriberCount())

	// Channel is closed after unsubscribe.
	_, ok := <-sub.C
	s.False(ok)
}

func (s *BroadcasterSuite) TestPublishDelivers() {
	sub := s.broadcaster.Subscribe()

	s.broadcaster.Publish(&indexer.IndexResult{SessionID: "session-1", MessagesIndexed: 3})

	result := <-sub.C
	s.Equal("session-1", result.SessionID)
	s.Equal(3, result.MessagesIndexed)
}

func (s *BroadcasterSuite) TestPublishNoSubscribers() {
	// Should not panic or block.
	s.broadcaster.Publish(&indexer.IndexResult{SessionID: "session-1"})
}

func (s *BroadcasterSuite) TestPublishMultipleSubscribers() {
	subs := make([]*Subscriber, 3)
	for i := range subs {
		subs[i] = s.broadcaster.Subscribe()
	}

	s.broadcaster.Publish(&indexer.IndexResult{SessionID: "session-1"})

	for i, sub := range subs {
		select {
		case result := <-sub.C:
			s.Equal("session-1", result.SessionID, "subscriber %d", i)
		default:
			s.Fail("subscriber should have received the result", "subscriber %d", i)
		}
	}
}

func (s *BroadcasterSuite) TestSlowSubscriberDropsResults() {
	sub := s.broadcaster.Subscribe()

	// Fill the buffer and then some; the overflow is dropped, not blocked on.
	for i := 0; i < DefaultBuffer+5; i++ {
		s.broadcaster.Publish(&indexer.IndexResult{SessionID: "session-1"})
	}

	received := 0
	for {
		select {
		case <-sub.C:
			received++
			continue
		default:
		}
		break
	}
	s.Equal(DefaultBuffer, received)
}

func (s *BroadcasterSuite) TestClose() {
	sub := s.broadcaster.Subscribe()
	s.broadcaster.Close()

	_, ok := <-sub.C
	s.False(ok)
	s.Equal(0, s.broadcaster.SubscriberCount())

	// Publish after close is a no-op.
	s.broadcaster.Publish(&indexer.IndexResult{SessionID: "session-1"})

	// Subscribing after close yields a closed channel.
	late := s.broadcaster.Subscribe()
	_, ok = <-late.C
	s.False(ok)
}

func TestSubscriberUniqueIDs(t *testing.T) {
	b := NewBroadcaster()
	ids := make(map[string]bool)

	for i := 0; i < 100; i++ {
		sub := b.Subscribe()
		assert.False(t, ids[sub.ID], "ID %s should be unique", sub.ID)
		ids[sub.ID] = true
	}
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	// Subscribers churn while publishers hammer full buffers; a send must
	// never land on a channel that Unsubscribe already closed.
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					b.Publish(&indexer.IndexResult{SessionID: "session-1"})
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		sub := b.Subscribe()
		b.Unsubscribe(sub)
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, 0, b.SubscriberCount())
}

func TestConcurrentPublish(t *testing.T) {
	b := NewBroadcaster()
	for i := 0; i < 10; i++ {
		sub := b.Subscribe()
		go func(s *Subscriber) {
			for range s.C {
			}
		}(sub)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Publish(&indexer.IndexResult{SessionID: "session-1", LinesProcessed: i})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, b.SubscriberCount())
	b.Close()
}

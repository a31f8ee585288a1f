// ABOUTME: In-memory fan-out of stored turns for cross-client awareness
// ABOUTME: Publishes each persisted exchange to all subscribers of its thread

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// TurnEvent announces an exchange that was just written to a thread.
type TurnEvent struct {
	ThreadID string
	Heading  string
	Index    int // position of Exchange within the thread
	Exchange store.Exchange
}

// TurnBroadcaster provides in-memory pub/sub for stored turns.
// Subscribers register for a thread id and receive events as turns on that
// thread are persisted, whichever client submitted them.
type TurnBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *TurnEvent // threadID -> subID -> ch
	logger      *slog.Logger
}

// NewTurnBroadcaster creates a broadcaster. Pass nil logger for default.
func NewTurnBroadcaster(logger *slog.Logger) *TurnBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnBroadcaster{
		subscribers: make(map[string]map[string]chan *TurnEvent),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for turns on the given thread.
// Returns a channel that receives events and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled.
func (b *TurnBroadcaster) Subscribe(ctx context.Context, threadID string) (<-chan *TurnEvent, string) {
	subID := uuid.New().String()
	ch := make(chan *TurnEvent, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[threadID]; !ok {
		b.subscribers[threadID] = make(map[string]chan *TurnEvent)
	}
	b.subscribers[threadID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "thread_id", threadID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(threadID, subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers of the given thread.
// If excludeSubID is non-empty, that subscriber is skipped (used to avoid
// echoing a turn back to the client that submitted it).
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *TurnBroadcaster) Publish(threadID string, event *TurnEvent, excludeSubID string) {
	b.mu.RLock()
	subs, ok := b.subscribers[threadID]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return
	}

	targets := make([]chan *TurnEvent, 0, len(subs))
	for id, ch := range subs {
		if excludeSubID != "" && id == excludeSubID {
			continue
		}
		targets = append(targets, ch)
	}

	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send; they never block.
	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped turn for slow subscriber", "thread_id", threadID, "index", event.Index)
		}
	}
	b.mu.RUnlock()
}

// Unsubscribe removes a subscription and closes its channel.
func (b *TurnBroadcaster) Unsubscribe(threadID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[threadID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, threadID)
	}

	b.logger.Debug("subscriber removed", "thread_id", threadID, "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions for a thread.
func (b *TurnBroadcaster) SubscriberCount(threadID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[threadID])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *TurnBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for threadID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, threadID)
	}

	b.logger.Debug("broadcaster closed")
}

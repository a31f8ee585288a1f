// ABOUTME: Tests for TurnBroadcaster fan-out pub/sub
// ABOUTME: Covers subscribe, publish, unsubscribe, context cancellation, concurrency

package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/store"
)

func makeTurn(threadID string, idx int) *TurnEvent {
	return &TurnEvent{
		ThreadID: threadID,
		Heading:  "Test Thread",
		Index:    idx,
		Exchange: store.Exchange{
			UserMessage: fmt.Sprintf("question %d", idx),
			AgentReply:  fmt.Sprintf("answer %d", idx),
			CreatedAt:   time.Now(),
		},
	}
}

func TestBroadcaster_SingleSubscriberReceivesEvent(t *testing.T) {
	b := NewTurnBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "thread-1")
	b.Publish("thread-1", makeTurn("thread-1", 3), "")

	select {
	case received := <-ch:
		assert.Equal(t, 3, received.Index)
		assert.Equal(t, "question 3", received.Exchange.UserMessage)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcaster_MultipleSubscribersReceiveSameEvent(t *testing.T) {
	b := NewTurnBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	ch1, _ := b.Subscribe(ctx, "thread-1")
	ch2, _ := b.Subscribe(ctx, "thread-1")
	ch3, _ := b.Subscribe(ctx, "thread-1")

	b.Publish("thread-1", makeTurn("thread-1", 0), "")

	for i, ch := range []<-chan *TurnEvent{ch1, ch2, ch3} {
		select {
		case received := <-ch:
			assert.Equal(t, "thread-1", received.ThreadID, "subscriber %d got wrong event", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_DifferentThreadsAreIsolated(t *testing.T) {
	b := NewTurnBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	ch1, _ := b.Subscribe(ctx, "thread-1")
	ch2, _ := b.Subscribe(ctx, "thread-2")

	b.Publish("thread-1", makeTurn("thread-1", 0), "")

	select {
	case received := <-ch1:
		assert.Equal(t, "thread-1", received.ThreadID)
	case <-time.After(time.Second):
		t.Fatal("thread-1 subscriber timed out")
	}

	select {
	case ev := <-ch2:
		t.Fatalf("thread-2 subscriber should not receive thread-1 turns: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_ExcludeSubID(t *testing.T) {
	b := NewTurnBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	sender, senderID := b.Subscribe(ctx, "thread-1")
	other, _ := b.Subscribe(ctx, "thread-1")

	b.Publish("thread-1", makeTurn("thread-1", 0), senderID)

	select {
	case <-other:
	case <-time.After(time.Second):
		t.Fatal("other subscriber timed out")
	}

	select {
	case ev := <-sender:
		t.Fatalf("excluded subscriber received event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_SlowConsumerDoesNotBlock(t *testing.T) {
	b := NewTurnBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "thread-1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Publish("thread-1", makeTurn("thread-1", i), "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Len(t, ch, subscriberBufferSize, "buffer holds the first events, the rest are dropped")
	first := <-ch
	assert.Equal(t, 0, first.Index)
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := NewTurnBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "thread-1")
	require.Equal(t, 1, b.SubscriberCount("thread-1"))

	cancel()

	require.Eventually(t, func() bool {
		return b.SubscriberCount("thread-1") == 0
	}, time.Second, 5*time.Millisecond)

	_, open := <-ch
	assert.False(t, open, "channel should be closed after cancellation")
}

func TestBroadcaster_ManualUnsubscribe(t *testing.T) {
	b := NewTurnBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), "thread-1")
	b.Unsubscribe("thread-1", subID)

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount("thread-1"))

	// Unsubscribing twice is harmless
	b.Unsubscribe("thread-1", subID)
	b.Unsubscribe("nope", "nope")
}

func TestBroadcaster_CloseClosesAll(t *testing.T) {
	b := NewTurnBroadcaster(nil)

	ctx := t.Context()
	ch1, _ := b.Subscribe(ctx, "thread-1")
	ch2, _ := b.Subscribe(ctx, "thread-2")

	b.Close()

	for _, ch := range []<-chan *TurnEvent{ch1, ch2} {
		_, open := <-ch
		assert.False(t, open)
	}
	assert.Equal(t, 0, b.SubscriberCount("thread-1"))
}

func TestBroadcaster_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewTurnBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			ch, subID := b.Subscribe(ctx, "thread-1")
			time.Sleep(time.Millisecond)
			if i%2 == 0 {
				b.Unsubscribe("thread-1", subID)
			} else {
				cancel()
			}
			for range ch {
			}
			cancel()
		}(i)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				b.Publish("thread-1", makeTurn("thread-1", i*20+j), "")
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent publish/subscribe deadlocked")
	}
}

func TestBroadcaster_UniqueIDs(t *testing.T) {
	b := NewTurnBroadcaster(nil)
	defer b.Close()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		_, id := b.Subscribe(t.Context(), "thread-1")
		require.False(t, seen[id], "duplicate subscription id %s", id)
		seen[id] = true
	}
}

func TestBroadcaster_PublishToNonexistentThread(t *testing.T) {
	b := NewTurnBroadcaster(nil)
	defer b.Close()

	assert.NotPanics(t, func() {
		b.Publish("nobody-listening", makeTurn("nobody-listening", 0), "")
	})
}

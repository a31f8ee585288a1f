// ABOUTME: Thread-safe TTL cache of turns whose reply was computed but not stored
// ABOUTME: Entries are keyed by a retry token and expire or get evicted oldest-first

package pending

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/store"
)

// Turn is a completed exchange waiting to be written.
type Turn struct {
	Token    string
	ThreadID string
	Exchange store.Exchange
	Heading  string

	// BaseLen is how many exchanges the thread had when the reply was
	// computed; a retry is only valid while that is still true.
	BaseLen int

	// Record is the conversation as it was returned to the caller.
	Record *store.ConversationRecord
}

// cacheEntry stores the turn, its insertion time and list element.
type cacheEntry struct {
	turn      *Turn
	timestamp time.Time
	element   *list.Element
}

// Cache holds pending turns for a limited time. When full, the oldest
// entry is dropped. Uses a doubly-linked list to keep insertion order for
// O(1) eviction.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   *list.List // tokens in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size.
// A background goroutine periodically removes expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Put stores a copy of turn and returns its retry token. A token is minted
// when turn.Token is empty.
func (c *Cache) Put(turn *Turn) string {
	t := *turn
	if t.Token == "" {
		t.Token = uuid.New().String()
	}
	if t.Record != nil {
		t.Record = t.Record.Clone()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[t.Token]; exists {
		entry.turn = &t
		entry.timestamp = time.Now()
		c.order.MoveToBack(entry.element)
		return t.Token
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(t.Token)
	c.entries[t.Token] = &cacheEntry{
		turn:      &t,
		timestamp: time.Now(),
		element:   elem,
	}
	return t.Token
}

// Get returns the turn for token if it exists and has not expired.
func (c *Cache) Get(token string) (*Turn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[token]
	if !ok || time.Since(entry.timestamp) >= c.ttl {
		return nil, false
	}
	t := *entry.turn
	if t.Record != nil {
		t.Record = t.Record.Clone()
	}
	return &t, true
}

// Remove forgets token.
func (c *Cache) Remove(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[token]; ok {
		c.order.Remove(entry.element)
		delete(c.entries, token)
	}
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	token, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, token)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for token, entry := range c.entries {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, token)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

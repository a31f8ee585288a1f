// ABOUTME: HistoryStore interface and data types for coven-chat persistence
// ABOUTME: Defines Exchange, ConversationRecord and ThreadSummary plus the store errors

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested thread does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write collides with a concurrent write to the
// same thread (duplicate exchange sequence number).
var ErrConflict = errors.New("conflicting write")

// ErrEmptyAppend is returned when Append is called without any exchanges
var ErrEmptyAppend = errors.New("append requires at least one exchange")

// Exchange is one user message paired with the agent's reply
type Exchange struct {
	UserMessage string
	AgentReply  string
	CreatedAt   time.Time
}

// ConversationRecord is the full history of a thread.
// Exchanges are in arrival order and only ever grow.
// Heading is set when the thread is first stored and never changes.
type ConversationRecord struct {
	ThreadID  string
	Exchanges []Exchange
	Heading   string
}

// HumanMessages returns the user side of every exchange, in order.
func (r *ConversationRecord) HumanMessages() []string {
	out := make([]string, len(r.Exchanges))
	for i, ex := range r.Exchanges {
		out[i] = ex.UserMessage
	}
	return out
}

// AgentReplies returns the agent side of every exchange, in order.
func (r *ConversationRecord) AgentReplies() []string {
	out := make([]string, len(r.Exchanges))
	for i, ex := range r.Exchanges {
		out[i] = ex.AgentReply
	}
	return out
}

// Clone returns a deep copy of the record.
func (r *ConversationRecord) Clone() *ConversationRecord {
	c := *r
	c.Exchanges = append([]Exchange(nil), r.Exchanges...)
	return &c
}

// ThreadSummary is one entry of the thread listing
type ThreadSummary struct {
	ThreadID  string
	Heading   string
	UpdatedAt time.Time
}

// HistoryStore persists conversation records keyed by thread id
type HistoryStore interface {
	// Load returns the record for threadID, or ErrNotFound.
	Load(ctx context.Context, threadID string) (*ConversationRecord, error)

	// Append adds exchanges to the end of the thread, creating it if needed.
	// The heading is stored only when the thread is created.
	Append(ctx context.Context, threadID string, exchanges []Exchange, heading string) error

	// ListThreads returns every known thread, most recently updated first.
	ListThreads(ctx context.Context) ([]ThreadSummary, error)

	// Ping reports whether the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

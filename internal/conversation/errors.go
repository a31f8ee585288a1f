// ABOUTME: Error taxonomy for chat turns: not found, upstream and persistence failures
// ABOUTME: Typed errors unwrap to sentinels so callers can use errors.Is or errors.As

package conversation

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown thread id or retry token
	ErrNotFound = errors.New("not found")

	// ErrEmptyMessage is returned when a turn has no message text
	ErrEmptyMessage = errors.New("message is empty")

	// ErrUpstream matches every *UpstreamError
	ErrUpstream = errors.New("upstream failure")

	// ErrPersistence matches every *PersistenceError
	ErrPersistence = errors.New("persistence failure")

	// ErrStaleRetry is returned when a thread moved on after a turn was computed
	ErrStaleRetry = errors.New("thread changed since the turn was computed")
)

// Stages reported by UpstreamError
const (
	StageAgent   = "agent"
	StageHeading = "heading"
)

// UpstreamError reports a failed or timed out agent or heading call.
// Nothing is written when a turn fails this way.
type UpstreamError struct {
	Stage string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s call failed: %v", e.Stage, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstream, e.Err}
}

// Timeout reports whether the call ran out of time.
func (e *UpstreamError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// PersistenceError reports a failed history store read or write.
type PersistenceError struct {
	ThreadID string
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.ThreadID == "" {
		return fmt.Sprintf("history store: %v", e.Err)
	}
	return fmt.Sprintf("history store (thread %s): %v", e.ThreadID, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

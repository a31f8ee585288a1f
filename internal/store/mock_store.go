// ABOUTME: Mock HistoryStore implementation for testing
// ABOUTME: In-memory records with injectable errors and call counters

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory HistoryStore implementation for testing.
// Records are copied on the way in and out so callers cannot alias them.
type MockStore struct {
	mu        sync.RWMutex
	records   map[string]*ConversationRecord
	updatedAt map[string]time.Time

	loadErr   error
	appendErr error
	listErr   error
	pingErr   error

	loadCalls   int
	appendCalls int
	listCalls   int

	// appendHook runs inside Append before the write, outside the lock
	appendHook func(threadID string)
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		records:   make(map[string]*ConversationRecord),
		updatedAt: make(map[string]time.Time),
	}
}

// Load returns a copy of the stored record or ErrNotFound.
func (m *MockStore) Load(ctx context.Context, threadID string) (*ConversationRecord, error) {
	m.mu.Lock()
	m.loadCalls++
	err := m.loadErr
	rec, ok := m.records[threadID]
	var out *ConversationRecord
	if ok {
		out = rec.Clone()
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return out, nil
}

// Append adds exchanges to the thread; the heading is kept only on creation.
func (m *MockStore) Append(ctx context.Context, threadID string, exchanges []Exchange, heading string) error {
	m.mu.Lock()
	m.appendCalls++
	err := m.appendErr
	hook := m.appendHook
	m.mu.Unlock()

	if hook != nil {
		hook(threadID)
	}
	if err != nil {
		return err
	}
	if len(exchanges) == 0 {
		return ErrEmptyAppend
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[threadID]
	if !ok {
		rec = &ConversationRecord{ThreadID: threadID, Heading: heading}
		m.records[threadID] = rec
	}
	rec.Exchanges = append(rec.Exchanges, exchanges...)
	m.updatedAt[threadID] = time.Now()
	return nil
}

// ListThreads returns summaries ordered by last update, newest first.
func (m *MockStore) ListThreads(ctx context.Context) ([]ThreadSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}

	out := make([]ThreadSummary, 0, len(m.records))
	for id, rec := range m.records {
		out = append(out, ThreadSummary{ThreadID: id, Heading: rec.Heading, UpdatedAt: m.updatedAt[id]})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Ping returns the injected ping error, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingErr
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Seed stores a record directly, bypassing Append and its counters.
func (m *MockStore) Seed(rec *ConversationRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ThreadID] = rec.Clone()
	m.updatedAt[rec.ThreadID] = time.Now()
}

// SetLoadError makes subsequent Load calls fail with err (nil clears it).
func (m *MockStore) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}

// SetAppendError makes subsequent Append calls fail with err (nil clears it).
func (m *MockStore) SetAppendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendErr = err
}

// SetListError makes subsequent ListThreads calls fail with err.
func (m *MockStore) SetListError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// SetPingError makes subsequent Ping calls fail with err.
func (m *MockStore) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// SetAppendHook registers fn to run at the start of every Append.
func (m *MockStore) SetAppendHook(fn func(threadID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendHook = fn
}

// LoadCalls returns how many times Load has been called.
func (m *MockStore) LoadCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadCalls
}

// AppendCalls returns how many times Append has been called.
func (m *MockStore) AppendCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.appendCalls
}

// ListCalls returns how many times ListThreads has been called.
func (m *MockStore) ListCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCalls
}

// Compile-time check that MockStore implements HistoryStore
var _ HistoryStore = (*MockStore)(nil)

// Compile-time check that SQLStore implements HistoryStore
var _ HistoryStore = (*SQLStore)(nil)

// ABOUTME: Thread session orchestrator: runs one chat turn per request
// ABOUTME: New threads get a reply and a heading; existing threads get history-aware replies

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/heading"
	"github.com/2389/coven-chat/internal/llm"
	"github.com/2389/coven-chat/internal/pending"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/threadlock"
)

// writeTimeout bounds the history write that ends a turn. The write is
// detached from the caller's cancellation so a client hanging up after the
// reply was computed does not lose the turn.
const writeTimeout = 10 * time.Second

// Replier is what the service needs from the reasoning agent
type Replier interface {
	Reply(ctx context.Context, conversation []llm.Message) (string, error)
}

// HeadingSynthesizer is what the service needs to title new threads
type HeadingSynthesizer interface {
	Synthesize(ctx context.Context, userMessage, agentReply string) (string, error)
}

// Options configures the service
type Options struct {
	AgentTimeout   time.Duration // zero means no bound beyond the caller's context
	HeadingTimeout time.Duration
	PendingTTL     time.Duration // how long a failed write stays retryable
	PendingMax     int
}

// TurnRequest is one inbound chat message.
type TurnRequest struct {
	ThreadID string // empty starts a new thread
	Message  string

	// SubscriberID, when set, is skipped when the stored turn is broadcast.
	SubscriberID string
}

// TurnResult is the outcome of a turn.
// When Persisted is false the reply was computed but not stored; the error
// returned alongside is a *PersistenceError and RetryToken can be passed to
// RetryTurn.
type TurnResult struct {
	Record     *store.ConversationRecord
	Persisted  bool
	RetryToken string
}

// Service orchestrates chat turns over a history store, a reasoning agent
// and a heading synthesizer. Turns on the same thread run one at a time.
type Service struct {
	store       store.HistoryStore
	agent       Replier
	headings    HeadingSynthesizer
	locks       *threadlock.Locker
	pending     *pending.Cache
	broadcaster *TurnBroadcaster
	opts        Options
	newID       func() string
	logger      *slog.Logger
}

// New creates a new Service
func New(st store.HistoryStore, agent Replier, headings HeadingSynthesizer, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 15 * time.Minute
	}
	if opts.PendingMax <= 0 {
		opts.PendingMax = 1000
	}
	return &Service{
		store:       st,
		agent:       agent,
		headings:    headings,
		locks:       threadlock.New(),
		pending:     pending.New(opts.PendingTTL, opts.PendingMax),
		broadcaster: NewTurnBroadcaster(logger),
		opts:        opts,
		newID:       func() string { return uuid.New().String() },
		logger:      logger.With("component", "conversation"),
	}
}

// Broadcaster returns the fan-out used to announce stored turns.
func (s *Service) Broadcaster() *TurnBroadcaster {
	return s.broadcaster
}

// Close releases background resources.
func (s *Service) Close() {
	s.pending.Close()
	s.broadcaster.Close()
}

// HandleTurn runs one chat turn. Exactly one agent call is made. Without a
// thread id a new thread is started and titled; otherwise the stored history
// is sent along with the new message and the exchange is appended.
func (s *Service) HandleTurn(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		return s.startThread(ctx, req)
	}
	return s.continueThread(ctx, threadID, req)
}

// startThread handles a message without a thread id
func (s *Service) startThread(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	threadID := s.newID()
	logger := s.logger.With("thread_id", threadID)
	logger.Debug("starting thread")

	unlock, err := s.locks.Lock(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	reply, err := s.reply(ctx, []llm.Message{{Role: llm.RoleUser, Content: req.Message}})
	if err != nil {
		logger.Warn("agent call failed", "error", err)
		return nil, err
	}

	title, err := s.synthesize(ctx, req.Message, reply)
	if err != nil {
		logger.Warn("heading call failed", "error", err)
		return nil, err
	}

	ex := store.Exchange{UserMessage: req.Message, AgentReply: reply, CreatedAt: time.Now().UTC()}
	rec := &store.ConversationRecord{
		ThreadID:  threadID,
		Exchanges: []store.Exchange{ex},
		Heading:   title,
	}

	return s.persist(ctx, rec, 0, req.SubscriberID)
}

// continueThread handles a message on an existing thread
func (s *Service) continueThread(ctx context.Context, threadID string, req *TurnRequest) (*TurnResult, error) {
	logger := s.logger.With("thread_id", threadID)

	unlock, err := s.locks.Lock(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := s.store.Load(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return nil, &PersistenceError{ThreadID: threadID, Err: err}
	}
	logger.Debug("continuing thread", "exchanges", len(rec.Exchanges))

	rec.Heading = s.resolveHeading(ctx, rec)

	msgs := make([]llm.Message, 0, 2*len(rec.Exchanges)+1)
	for _, ex := range rec.Exchanges {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: ex.UserMessage},
			llm.Message{Role: llm.RoleAssistant, Content: ex.AgentReply},
		)
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Message})

	reply, err := s.reply(ctx, msgs)
	if err != nil {
		logger.Warn("agent call failed", "error", err)
		return nil, err
	}

	baseLen := len(rec.Exchanges)
	rec.Exchanges = append(rec.Exchanges, store.Exchange{
		UserMessage: req.Message,
		AgentReply:  reply,
		CreatedAt:   time.Now().UTC(),
	})

	return s.persist(ctx, rec, baseLen, req.SubscriberID)
}

// resolveHeading returns the stored heading, falling back to the thread
// listing and finally to heading.DefaultMissing. It never fails the turn.
func (s *Service) resolveHeading(ctx context.Context, rec *store.ConversationRecord) string {
	if rec.Heading != "" {
		return rec.Heading
	}

	threads, err := s.store.ListThreads(ctx)
	if err != nil {
		s.logger.Warn("heading lookup failed, using default", "thread_id", rec.ThreadID, "error", err)
		return heading.DefaultMissing
	}
	for _, t := range threads {
		if t.ThreadID == rec.ThreadID && t.Heading != "" {
			return t.Heading
		}
	}

	s.logger.Warn("thread has no heading, using default", "thread_id", rec.ThreadID)
	return heading.DefaultMissing
}

// persist appends the last exchange of rec. On failure the turn is parked
// for RetryTurn and the computed record is still returned.
func (s *Service) persist(ctx context.Context, rec *store.ConversationRecord, baseLen int, subscriberID string) (*TurnResult, error) {
	ex := rec.Exchanges[len(rec.Exchanges)-1]

	if err := s.write(ctx, rec.ThreadID, ex, rec.Heading); err != nil {
		token := s.pending.Put(&pending.Turn{
			ThreadID: rec.ThreadID,
			Exchange: ex,
			Heading:  rec.Heading,
			BaseLen:  baseLen,
			Record:   rec,
		})
		s.logger.Error("failed to store turn", "thread_id", rec.ThreadID, "error", err, "retry_token", token)
		return &TurnResult{Record: rec, Persisted: false, RetryToken: token},
			&PersistenceError{ThreadID: rec.ThreadID, Err: err}
	}

	s.announce(rec, subscriberID)
	s.logger.Debug("turn stored", "thread_id", rec.ThreadID, "exchanges", len(rec.Exchanges))
	return &TurnResult{Record: rec, Persisted: true}, nil
}

func (s *Service) write(ctx context.Context, threadID string, ex store.Exchange, title string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	return s.store.Append(ctx, threadID, []store.Exchange{ex}, title)
}

func (s *Service) announce(rec *store.ConversationRecord, subscriberID string) {
	idx := len(rec.Exchanges) - 1
	s.broadcaster.Publish(rec.ThreadID, &TurnEvent{
		ThreadID: rec.ThreadID,
		Heading:  rec.Heading,
		Index:    idx,
		Exchange: rec.Exchanges[idx],
	}, subscriberID)
}

// RetryTurn re-attempts the history write of a turn that failed to persist.
// The agent and heading synthesizer are not called again. The retry is
// refused with ErrStaleRetry if the thread changed in the meantime.
func (s *Service) RetryTurn(ctx context.Context, token string) (*TurnResult, error) {
	turn, ok := s.pending.Get(token)
	if !ok {
		return nil, fmt.Errorf("retry token: %w", ErrNotFound)
	}
	logger := s.logger.With("thread_id", turn.ThreadID)

	unlock, err := s.locks.Lock(ctx, turn.ThreadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	failed := &TurnResult{Record: turn.Record, Persisted: false, RetryToken: token}

	current := 0
	rec, err := s.store.Load(ctx, turn.ThreadID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return failed, &PersistenceError{ThreadID: turn.ThreadID, Err: err}
	default:
		current = len(rec.Exchanges)
	}

	switch {
	case current == turn.BaseLen:
	case current == turn.BaseLen+1 && rec.Exchanges[current-1].UserMessage == turn.Exchange.UserMessage &&
		rec.Exchanges[current-1].AgentReply == turn.Exchange.AgentReply:
		// The earlier write landed after all.
		s.pending.Remove(token)
		logger.Info("retried turn was already stored")
		return &TurnResult{Record: turn.Record, Persisted: true}, nil
	default:
		s.pending.Remove(token)
		logger.Warn("refusing stale retry", "expected_exchanges", turn.BaseLen, "found", current)
		return nil, ErrStaleRetry
	}

	if err := s.write(ctx, turn.ThreadID, turn.Exchange, turn.Heading); err != nil {
		logger.Error("retry failed to store turn", "error", err)
		return failed, &PersistenceError{ThreadID: turn.ThreadID, Err: err}
	}

	s.pending.Remove(token)
	s.announce(turn.Record, "")
	logger.Info("retried turn stored")
	return &TurnResult{Record: turn.Record, Persisted: true}, nil
}

// GetThread returns the stored conversation for threadID without calling
// the agent. A thread stored without a heading reports heading.DefaultMissing.
func (s *Service) GetThread(ctx context.Context, threadID string) (*store.ConversationRecord, error) {
	rec, err := s.store.Load(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return nil, &PersistenceError{ThreadID: threadID, Err: err}
	}
	if rec.Heading == "" {
		rec.Heading = heading.DefaultMissing
	}
	return rec, nil
}

// ListThreads returns a summary of every stored thread.
func (s *Service) ListThreads(ctx context.Context) ([]store.ThreadSummary, error) {
	threads, err := s.store.ListThreads(ctx)
	if err != nil {
		return nil, &PersistenceError{Err: err}
	}
	return threads, nil
}

// reply calls the agent within the agent timeout
func (s *Service) reply(ctx context.Context, msgs []llm.Message) (string, error) {
	text, err := bounded(ctx, s.opts.AgentTimeout, func(ctx context.Context) (string, error) {
		return s.agent.Reply(ctx, msgs)
	})
	if err != nil {
		return "", &UpstreamError{Stage: StageAgent, Err: err}
	}
	return text, nil
}

// synthesize calls the heading synthesizer within the heading timeout
func (s *Service) synthesize(ctx context.Context, userMessage, agentReply string) (string, error) {
	text, err := bounded(ctx, s.opts.HeadingTimeout, func(ctx context.Context) (string, error) {
		return s.headings.Synthesize(ctx, userMessage, agentReply)
	})
	if err != nil {
		return "", &UpstreamError{Stage: StageHeading, Err: err}
	}
	return text, nil
}

// bounded runs fn with a deadline and returns when either fn finishes or the
// deadline passes, even if fn ignores its context.
func bounded(ctx context.Context, timeout time.Duration, fn func(context.Context) (string, error)) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := fn(ctx)
		done <- result{text, err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

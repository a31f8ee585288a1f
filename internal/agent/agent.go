// ABOUTME: Reasoning agent that produces a reply for a conversation
// ABOUTME: Wraps an llm.Client with the configured model, system prompt and temperature

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/llm"
)

// ErrEmptyConversation is returned when Reply is called with nothing to answer
var ErrEmptyConversation = errors.New("conversation has no user message")

// Agent answers conversations through a language model.
// It keeps no state between calls and never retries.
type Agent struct {
	client       llm.Client
	model        string
	systemPrompt string
	temperature  *float64
	logger       *slog.Logger
}

// New creates an Agent from the provider settings in cfg.
func New(client llm.Client, cfg config.ProviderConfig, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		client:       client,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		temperature:  cfg.Temperature,
		logger:       logger.With("component", "agent"),
	}
}

// Reply sends the conversation (alternating user and assistant messages,
// ending with the new user message) and returns the trimmed reply text.
func (a *Agent) Reply(ctx context.Context, conversation []llm.Message) (string, error) {
	if len(conversation) == 0 || conversation[len(conversation)-1].Role != llm.RoleUser {
		return "", ErrEmptyConversation
	}

	msgs := make([]llm.Message, 0, len(conversation)+1)
	if a.systemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: a.systemPrompt})
	}
	msgs = append(msgs, conversation...)

	start := time.Now()
	text, err := a.client.Complete(ctx, &llm.Request{
		Model:       a.model,
		Messages:    msgs,
		Temperature: a.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("agent reply: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("agent reply: %w", llm.ErrEmptyResponse)
	}

	a.logger.Debug("agent replied", "messages", len(msgs), "duration", time.Since(start), "reply_len", len(text))
	return text, nil
}

// ABOUTME: Provider-neutral chat completion types and the Client interface
// ABOUTME: New builds a configured provider client, rate limited when requested

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/coven-chat/internal/config"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned when a provider answers with no text
var ErrEmptyResponse = errors.New("empty response from model")

// Message is one chat message
type Message struct {
	Role    string
	Content string
}

// Request is a single non-streaming completion request.
// An empty Model uses the client's configured model.
type Request struct {
	Model       string
	Messages    []Message
	Temperature *float64
}

// Client is the interface that all LLM providers implement.
// Implementations do not retry.
type Client interface {
	// Complete sends the conversation and returns the assistant's text.
	Complete(ctx context.Context, req *Request) (string, error)
}

// New creates a client for the configured provider. When
// cfg.RequestsPerSecond is positive the client is rate limited.
func New(cfg config.ProviderConfig, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm", "provider", cfg.Provider)

	var (
		client Client
		err    error
	)
	switch cfg.Provider {
	case "openai":
		client = NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL, logger)
	case "ollama":
		client, err = NewOllamaClient(cfg.Model, cfg.BaseURL, logger)
	case "gemini":
		client, err = NewGeminiClient(context.Background(), cfg.APIKey, cfg.Model, cfg.BaseURL, logger)
	case "echo":
		client = NewEchoClient()
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.Provider, err)
	}

	if cfg.RequestsPerSecond > 0 {
		client = RateLimited(client, cfg.RequestsPerSecond, cfg.Burst)
	}

	logger.Info("llm client initialized", "model", cfg.Model, "rps", cfg.RequestsPerSecond)
	return client, nil
}

// lastUserMessage returns the content of the final user message, if any
func lastUserMessage(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

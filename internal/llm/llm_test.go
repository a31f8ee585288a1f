// ABOUTME: Tests for LLM provider clients against httptest servers
// ABOUTME: Covers OpenAI and Ollama wire shapes, echo, rate limiting and the factory

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/2389/coven-chat/internal/config"
)

func ptr(f float64) *float64 { return &f }

func TestOpenAIClient_Complete(t *testing.T) {
	var got struct {
		Model       string   `json:"model"`
		Temperature *float64 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "  Paris.  "}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 2, "total_tokens": 14}
		}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient("sk-test", "gpt-4o-mini", srv.URL+"/v1/", nil)
	text, err := client.Complete(context.Background(), &Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "What is the capital of France?"},
		},
		Temperature: ptr(0.7),
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris.", text)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.7, *got.Temperature, 1e-9)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "What is the capital of France?", got.Messages[1].Content)
}

func TestOpenAIClient_ErrorIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"message": "upstream exploded", "type": "server_error"}}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient("sk-test", "gpt-4o-mini", srv.URL+"/v1/", nil)
	_, err := client.Complete(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestOllamaClient_Complete(t *testing.T) {
	var got struct {
		Model    string         `json:"model"`
		Stream   *bool          `json:"stream"`
		Options  map[string]any `json:"options"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"llama3.2","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":"Rome in May sounds lovely."},"done":true,"done_reason":"stop"}` + "\n"))
	}))
	defer srv.Close()

	client, err := NewOllamaClient("llama3.2", srv.URL, nil)
	require.NoError(t, err)

	text, err := client.Complete(context.Background(), &Request{
		Messages: []Message{
			{Role: RoleUser, Content: "plan a trip"},
			{Role: RoleAssistant, Content: "where to?"},
			{Role: RoleUser, Content: "Rome"},
		},
		Temperature: ptr(0.2),
	})
	require.NoError(t, err)
	assert.Equal(t, "Rome in May sounds lovely.", text)

	assert.Equal(t, "llama3.2", got.Model)
	require.NotNil(t, got.Stream)
	assert.False(t, *got.Stream)
	assert.InDelta(t, 0.2, got.Options["temperature"], 1e-9)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "assistant", got.Messages[1].Role)
}

func TestOllamaClient_EmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"llama3.2","message":{"role":"assistant","content":"   "},"done":true}` + "\n"))
	}))
	defer srv.Close()

	client, err := NewOllamaClient("llama3.2", srv.URL, nil)
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGeminiClient_ConvertMessages(t *testing.T) {
	g := &GeminiClient{}
	contents, system := g.convertMessages([]Message{
		{Role: RoleSystem, Content: "You are a helpful assistant."},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "bye"},
	})

	require.NotNil(t, system)
	require.Len(t, system.Parts, 1)
	assert.Equal(t, "You are a helpful assistant.", system.Parts[0].Text)

	require.Len(t, contents, 3)
	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
	assert.Equal(t, "bye", contents[2].Parts[0].Text)
}

func TestEchoClient(t *testing.T) {
	client := NewEchoClient()

	text, err := client.Complete(context.Background(), &Request{Messages: []Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "echo: first"},
		{Role: RoleUser, Content: " second "},
	}})
	require.NoError(t, err)
	assert.Equal(t, "echo: second", text)

	_, err = client.Complete(context.Background(), &Request{})
	assert.ErrorIs(t, err, ErrEmptyResponse)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Complete(ctx, &Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimited(t *testing.T) {
	echo := NewEchoClient()
	assert.Same(t, Client(echo), RateLimited(echo, 0, 0), "non-positive rate should not wrap")

	limited := RateLimited(echo, 1, 1)
	req := &Request{Messages: []Message{{Role: RoleUser, Content: "x"}}}

	_, err := limited.Complete(context.Background(), req)
	require.NoError(t, err, "first call uses the burst token")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = limited.Complete(ctx, req)
	assert.Error(t, err, "second call should not get a token before the deadline")
}

func TestNew(t *testing.T) {
	client, err := New(config.ProviderConfig{Provider: "echo"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &EchoClient{}, client)

	client, err = New(config.ProviderConfig{Provider: "echo", RequestsPerSecond: 5}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RateLimitedClient{}, client)

	client, err = New(config.ProviderConfig{Provider: "openai", APIKey: "sk", Model: "gpt-4o-mini"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, client)

	client, err = New(config.ProviderConfig{Provider: "ollama", Model: "llama3.2", BaseURL: "http://localhost:11434"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OllamaClient{}, client)

	_, err = New(config.ProviderConfig{Provider: "watson"}, nil)
	assert.Error(t, err)
}

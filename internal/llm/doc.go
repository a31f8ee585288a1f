// Package llm provides non-streaming chat completion clients.
//
// Providers:
//
//   - openai: github.com/openai/openai-go/v3 chat completions
//   - ollama: github.com/ollama/ollama/api with streaming off
//   - gemini: google.golang.org/genai
//   - echo: offline, replies with the last user message
//
// New selects the provider from config.ProviderConfig and wraps it with
// RateLimited when requests_per_second is set. Clients never retry.
package llm

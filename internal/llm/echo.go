// ABOUTME: Offline provider that echoes the latest user message
// ABOUTME: Used for local development and smoke tests without a model backend

package llm

import (
	"context"
	"strings"
)

// EchoClient answers every request with "echo: " plus the last user message
type EchoClient struct{}

// NewEchoClient creates an EchoClient.
func NewEchoClient() *EchoClient {
	return &EchoClient{}
}

// Complete implements Client
func (e *EchoClient) Complete(ctx context.Context, req *Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msg := strings.TrimSpace(lastUserMessage(req.Messages))
	if msg == "" {
		return "", ErrEmptyResponse
	}
	return "echo: " + msg, nil
}

// ABOUTME: Tests for heading synthesis and sanitization
// ABOUTME: Covers prompt shape, empty input short-circuit and fallback chain

package heading

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/llm"
)

type fakeClient struct {
	reply    string
	err      error
	requests []*llm.Request
}

func (f *fakeClient) Complete(ctx context.Context, req *llm.Request) (string, error) {
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "Capital of France", "Capital of France"},
		{"quoted", `"Capital of France"`, "Capital of France"},
		{"smart quotes", "“Trip Planning”", "Trip Planning"},
		{"commas", "Paris, France, and Europe", "Paris France and Europe"},
		{"brackets", "Budget (2024) [draft] {v2} <final>", "Budget 2024 draft v2 final"},
		{"markdown", "**Trip Planning**", "Trip Planning"},
		{"markdown heading", "## Trip Planning", "Trip Planning"},
		{"label", "Heading: Trip Planning", "Trip Planning"},
		{"title label", "title: Trip Planning.", "Trip Planning"},
		{"multi line", "\n\nTrip Planning\nThis heading summarizes...", "Trip Planning"},
		{"whitespace", "  Trip \t  Planning  ", "Trip Planning"},
		{"bold label", "**Heading:** Trip Planning", "Trip Planning"},
		{"code label", "`Title:` Trip Planning", "Trip Planning"},
		{"fullwidth comma", "巴黎，法国的首都", "巴黎法国的首都"},
		{"ideographic comma", "東京、大阪", "東京大阪"},
		{"small and arabic commas", "Paris﹐ France، Europe", "Paris France Europe"},
		{"lenticular brackets", "【Paris】 Capital", "Paris Capital"},
		{"corner brackets", "「Paris」", "Paris"},
		{"angle brackets", "Paris ⟨Capital⟩", "Paris Capital"},
		{"fullwidth parens", "预算（草稿）", "预算草稿"},
		{"only brackets", "()[]{},", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.raw, 80))
		})
	}
}

func TestSanitize_Truncates(t *testing.T) {
	long := strings.Repeat("word ", 40)
	got := Sanitize(long, 22)
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 22)
	assert.Equal(t, "word word word word", got)

	got = Sanitize(strings.Repeat("x", 100), 10)
	assert.Equal(t, strings.Repeat("x", 10), got, "a single long word is cut hard")

	got = Sanitize(strings.Repeat("é", 100), 0)
	assert.Equal(t, DefaultMaxLength, utf8.RuneCountInString(got))
}

func TestSynthesize_Prompt(t *testing.T) {
	temp := 0.7
	client := &fakeClient{reply: "Capital of France"}
	s := New(client, Options{Model: "gpt-4o-mini", Temperature: &temp}, nil)

	h, err := s.Synthesize(context.Background(), "What is the capital of France?", "Paris.")
	require.NoError(t, err)
	assert.Equal(t, "Capital of France", h)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.Equal(t, &temp, req.Temperature)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "You are a helpful assistant.", req.Messages[0].Content)
	assert.Contains(t, req.Messages[1].Content, "User: What is the capital of France?\nAI: Paris.")
	assert.Contains(t, req.Messages[1].Content, "Dont use commas and anytype of brackets")
}

func TestSynthesize_EmptyInputSkipsModel(t *testing.T) {
	client := &fakeClient{reply: "should not be used"}
	s := New(client, Options{}, nil)

	h, err := s.Synthesize(context.Background(), "  ", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultNew, h)
	assert.Empty(t, client.requests)
}

func TestSynthesize_Fallbacks(t *testing.T) {
	client := &fakeClient{reply: "(),[]"}
	s := New(client, Options{}, nil)

	h, err := s.Synthesize(context.Background(), "Plan a trip to Rome, please", "Sure")
	require.NoError(t, err)
	assert.Equal(t, "Plan a trip to Rome please", h)

	h, err = s.Synthesize(context.Background(), "(,)", "Sure")
	require.NoError(t, err)
	assert.Equal(t, DefaultUntitled, h)
}

func TestSynthesize_DefaultNewOnlyWhenSkipped(t *testing.T) {
	client := &fakeClient{reply: "()"}
	s := New(client, Options{}, nil)

	h, err := s.Synthesize(context.Background(), "[]", "{}")
	require.NoError(t, err)
	require.Len(t, client.requests, 1)
	assert.NotEqual(t, DefaultNew, h, "a heading produced after a model call is not the skip default")
	assert.Equal(t, DefaultUntitled, h)
}

func TestSynthesize_ModelError(t *testing.T) {
	boom := errors.New("rate limited")
	s := New(&fakeClient{err: boom}, Options{}, nil)

	_, err := s.Synthesize(context.Background(), "hello", "hi")
	assert.ErrorIs(t, err, boom)
}

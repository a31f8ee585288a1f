// ABOUTME: Heading synthesizer that titles a new thread from its first exchange
// ABOUTME: One model call per thread, output cleaned into a short single-line label

package heading

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/2389/coven-chat/internal/llm"
)

// Fallback headings
const (
	// DefaultNew is used when there is nothing to summarize yet
	DefaultNew = "New Conversation"
	// DefaultMissing is used for a stored thread whose heading cannot be found
	DefaultMissing = "Default Heading"
	// DefaultUntitled is used when the model was asked but neither its answer
	// nor the user message leaves anything usable
	DefaultUntitled = "Untitled Conversation"
)

// DefaultMaxLength bounds a heading in runes
const DefaultMaxLength = 80

const (
	systemPrompt = "You are a helpful assistant."
	instruction  = "Generate a very short concise and meaningful heading for this conversation. " +
		"Note: Dont use commas and anytype of brackets please"
)

// Options tune heading generation
type Options struct {
	Model       string
	Temperature *float64
	MaxLength   int
}

// Synthesizer produces headings through a language model
type Synthesizer struct {
	client llm.Client
	opts   Options
	logger *slog.Logger
}

// New creates a Synthesizer.
func New(client llm.Client, opts Options, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}
	return &Synthesizer{
		client: client,
		opts:   opts,
		logger: logger.With("component", "heading"),
	}
}

// Synthesize returns a heading for a conversation whose first exchange is
// (userMessage, agentReply). With nothing to summarize it returns DefaultNew
// without calling the model. Model errors are returned as-is; an unusable
// model answer falls back to a heading cut from the user message, then to
// DefaultUntitled.
func (s *Synthesizer) Synthesize(ctx context.Context, userMessage, agentReply string) (string, error) {
	userMessage = strings.TrimSpace(userMessage)
	agentReply = strings.TrimSpace(agentReply)
	if userMessage == "" && agentReply == "" {
		return DefaultNew, nil
	}

	prompt := fmt.Sprintf("User: %s\nAI: %s\n\n%s", userMessage, agentReply, instruction)

	raw, err := s.client.Complete(ctx, &llm.Request{
		Model: s.opts.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: s.opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("generating heading: %w", err)
	}

	if h := Sanitize(raw, s.opts.MaxLength); h != "" {
		return h, nil
	}

	s.logger.Warn("model heading unusable, deriving from message", "raw", raw)
	if h := Sanitize(userMessage, s.opts.MaxLength); h != "" {
		return h, nil
	}
	return DefaultUntitled, nil
}

// Sanitize reduces raw model output to a single short line without commas,
// brackets, quotes or markdown emphasis, cut at a word boundary to at most
// maxLen runes (DefaultMaxLength when maxLen <= 0).
func Sanitize(raw string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}

	line := firstLine(raw)
	line = strings.TrimLeft(line, "# ")
	line = strings.Map(func(r rune) rune {
		if r == '*' || r == '`' {
			return -1
		}
		return r
	}, line)
	line = stripLabel(strings.TrimSpace(line))
	line = strings.Map(func(r rune) rune {
		if isSeparator(r) {
			return -1
		}
		return r
	}, line)
	line = strings.Join(strings.Fields(line), " ")
	line = strings.Trim(line, "\"'“”‘’_ ")
	line = strings.TrimRight(line, ".:; ")

	return truncate(line, maxLen)
}

// isSeparator reports commas and brackets in any script
func isSeparator(r rune) bool {
	switch r {
	case ',', '<', '>',
		'\uFF0C', // fullwidth comma
		'\u3001', // ideographic comma
		'\uFF64', // halfwidth ideographic comma
		'\uFE50', // small comma
		'\uFE51', // small ideographic comma
		'\u060C': // arabic comma
		return true
	}
	return unicode.In(r, unicode.Ps, unicode.Pe)
}

func firstLine(s string) string {
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	return ""
}

// stripLabel drops a leading "Heading:" or "Title:" that some models add
func stripLabel(s string) string {
	lower := strings.ToLower(s)
	for _, label := range []string{"heading:", "title:"} {
		if strings.HasPrefix(lower, label) {
			return strings.TrimSpace(s[len(label):])
		}
	}
	return s
}

func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)[:maxLen]
	cut := string(runes)
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, ".:; ")
}

// ABOUTME: Renders conversation records as Markdown or HTML transcripts
// ABOUTME: HTML output is converted from the Markdown with goldmark

package transcript

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/coven-chat/internal/store"
)

// Formats accepted by Render
const (
	FormatMarkdown = "md"
	FormatHTML     = "html"
)

// ContentType returns the HTTP content type for a format.
func ContentType(format string) string {
	if format == FormatHTML {
		return "text/html; charset=utf-8"
	}
	return "text/markdown; charset=utf-8"
}

// Render dispatches on format ("md" or "html").
func Render(rec *store.ConversationRecord, format string) ([]byte, error) {
	switch format {
	case "", FormatMarkdown, "markdown":
		return []byte(Markdown(rec)), nil
	case FormatHTML:
		return HTML(rec)
	default:
		return nil, fmt.Errorf("unknown transcript format %q", format)
	}
}

// Markdown renders rec as a Markdown document.
func Markdown(rec *store.ConversationRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", rec.Heading)
	for _, ex := range rec.Exchanges {
		fmt.Fprintf(&b, "**User:** %s\n\n", ex.UserMessage)
		fmt.Fprintf(&b, "**AI:** %s\n\n", ex.AgentReply)
	}
	return b.String()
}

// HTML renders rec as a standalone HTML page.
func HTML(rec *store.ConversationRecord) ([]byte, error) {
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(rec)), &body); err != nil {
		return nil, fmt.Errorf("converting transcript: %w", err)
	}

	var page bytes.Buffer
	fmt.Fprintf(&page, `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
%s</body></html>
`, html.EscapeString(rec.Heading), body.String())
	return page.Bytes(), nil
}

// Package render turns combined chat events into display messages.
package render

import (
	"bytes"
	"fmt"
	"html"
	"math"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	gmext "github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/KamdynS/agentconsole/chatevent"
)

// Kind classifies a rendered message.
type Kind string

const (
	KindInput   Kind = "input"
	KindContent Kind = "content"
	KindError   Kind = "error"
	KindTool    Kind = "tool"
)

// Message is one display block.
type Message struct {
	RunID string              `json:"runID"`
	Kind  Kind                `json:"kind"`
	Text  string              `json:"text"`
	HTML  string              `json:"html,omitempty"`
	Tool  *chatevent.ToolCall `json:"tool,omitempty"`
}

// Renderer converts markdown to sanitized HTML.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// New returns a Renderer using GitHub flavored markdown and the UGC policy.
func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(gmext.GFM),
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// Markdown renders src and sanitizes the result.
func (r *Renderer) Markdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return r.policy.Sanitize(buf.String()), nil
}

// Messages combines events and renders each resulting block. An event that
// carries more than one marker yields one message per marker in the order
// input, tool, error, content.
func (r *Renderer) Messages(events []chatevent.ChatEvent) ([]Message, error) {
	combined := chatevent.Combine(events)
	out := make([]Message, 0, len(combined))
	for _, ev := range combined {
		if ev.Input != "" {
			out = append(out, Message{
				RunID: ev.RunID,
				Kind:  KindInput,
				Text:  ev.Input,
				HTML:  paragraph(ev.Input),
			})
		}
		if ev.ToolCall != nil {
			tc := *ev.ToolCall
			out = append(out, Message{
				RunID: ev.RunID,
				Kind:  KindTool,
				Text:  ToolLine(&tc),
				HTML:  "<code>" + html.EscapeString(ToolLine(&tc)) + "</code>",
				Tool:  &tc,
			})
		}
		if ev.Error != "" {
			out = append(out, Message{
				RunID: ev.RunID,
				Kind:  KindError,
				Text:  ev.Error,
				HTML:  paragraph(ev.Error),
			})
		}
		if ev.Content != "" {
			h, err := r.Markdown(ev.Content)
			if err != nil {
				return nil, err
			}
			out = append(out, Message{
				RunID: ev.RunID,
				Kind:  KindContent,
				Text:  ev.Content,
				HTML:  h,
			})
		}
	}
	return out, nil
}

// ToolLine formats a tool call as name(input).
func ToolLine(tc *chatevent.ToolCall) string {
	return tc.Name + "(" + tc.Input + ")"
}

func paragraph(s string) string {
	return "<p>" + strings.ReplaceAll(html.EscapeString(s), "\n", "<br>") + "</p>"
}

var sinceUnits = []struct {
	seconds  float64
	singular string
	plural   string
}{
	{31536000, "year", "years"},
	{2592000, "month", "months"},
	{86400, "day", "days"},
	{3600, "hour", "hours"},
	{60, "minute", "minutes"},
}

// TimeSince describes the time elapsed between t and now, e.g. "3 days".
// A unit is used only once more than one whole unit has elapsed.
func TimeSince(t, now time.Time) string {
	seconds := math.Floor(now.Sub(t).Seconds())
	for _, u := range sinceUnits {
		interval := seconds / u.seconds
		if interval > 1 {
			return count(interval, u.singular, u.plural)
		}
	}
	return count(seconds, "second", "seconds")
}

func count(v float64, singular, plural string) string {
	n := int64(math.Floor(v))
	if n == 1 {
		return "1 " + singular
	}
	return fmt.Sprintf("%d %s", n, plural)
}

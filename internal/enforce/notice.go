// ABOUTME: Restriction notice shown while content is blocked
// ABOUTME: Custom messages are Markdown, rendered with goldmark to HTML with raw HTML dropped

package enforce

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
)

// Notice is what a Presenter displays over blocked content.
type Notice struct {
	RuleID      string
	Type        string
	TargetID    string
	Heading     string
	Summary     string
	Title       string
	ChannelName string
	// Message is the monitoring party's custom message as written, and
	// MessageHTML its rendering. Both are empty when no message was set.
	Message     string
	MessageHTML template.HTML
}

// renderer has no html.WithUnsafe, so raw HTML in a message is omitted.
var renderer = goldmark.New()

func newNotice(r Rule, c Content) Notice {
	n := Notice{
		RuleID:      r.ID,
		Type:        r.Type,
		TargetID:    r.TargetID,
		Heading:     "Content Restricted",
		Summary:     fmt.Sprintf("This %s has been blocked.", r.Type),
		Title:       firstNonEmpty(r.Title, c.Title, "Unknown"),
		ChannelName: firstNonEmpty(r.ChannelName, c.ChannelName),
		Message:     strings.TrimSpace(r.CustomMessage),
	}
	if n.Message != "" {
		n.MessageHTML = renderMessage(n.Message)
	}
	return n
}

func renderMessage(md string) template.HTML {
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(md), &buf); err != nil {
		return template.HTML("<p>" + template.HTMLEscapeString(md) + "</p>")
	}
	return template.HTML(buf.String())
}

// Text is a plain-text rendering for terminals and logs.
func (n Notice) Text() string {
	var b strings.Builder
	b.WriteString(n.Heading)
	b.WriteString("\n")
	b.WriteString(n.Summary)
	if n.Message != "" {
		b.WriteString("\nReason: ")
		b.WriteString(n.Message)
	}
	label := "Content"
	if n.Type != "" {
		label = strings.ToUpper(n.Type[:1]) + n.Type[1:]
	}
	fmt.Fprintf(&b, "\n%s: %s", label, n.Title)
	if n.ChannelName != "" {
		b.WriteString("\nChannel: ")
		b.WriteString(n.ChannelName)
	}
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

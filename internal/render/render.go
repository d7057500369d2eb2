// Package render formats chats and messages for terminals and browsers.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/ashton/loopchat/internal/models"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// HTML converts message content from markdown. Inline code and fenced code
// blocks come out as <code> and <pre><code>.
func HTML(content string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

// SafeHTML is HTML with escaped plain text as the fallback.
func SafeHTML(content string) template.HTML {
	out, err := HTML(content)
	if err != nil {
		return template.HTML(template.HTMLEscapeString(content))
	}
	return template.HTML(out)
}

// Truncate shortens s to n runes, adding "..." if truncated.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Ago returns a human-readable relative time string.
func Ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	if time.Since(t) < time.Minute {
		return "just now"
	}
	return humanize.Time(t)
}

// Format names a transcript format.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat accepts text, markdown/md and html.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("unknown transcript format %q (valid: text, markdown, html)", s)
}

func author(m models.Message, agent models.Agent) string {
	if m.Sender == models.SenderUser {
		return "You"
	}
	return agent.Name
}

// Transcript writes the messages of chat in the given format.
func Transcript(w io.Writer, chat models.Chat, agent models.Agent, messages []models.Message, format Format) error {
	switch format {
	case FormatText:
		return textTranscript(w, chat, agent, messages)
	case FormatMarkdown:
		return markdownTranscript(w, chat, agent, messages)
	case FormatHTML:
		return htmlTranscript(w, chat, agent, messages)
	}
	return fmt.Errorf("unknown transcript format %q", format)
}

func textTranscript(w io.Writer, chat models.Chat, agent models.Agent, messages []models.Message) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (with %s)\n", chat.Name, agent.Name)
	b.WriteString(strings.Repeat("-", 40) + "\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s:\n", m.Timestamp.Local().Format("2006-01-02 15:04"), author(m, agent))
		for _, line := range strings.Split(m.Content, "\n") {
			b.WriteString("  " + line + "\n")
		}
		for _, a := range m.Attachments {
			fmt.Fprintf(&b, "  (attachment: %s)\n", a.Name)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func markdownTranscript(w io.Writer, chat models.Chat, agent models.Agent, messages []models.Message) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n_Agent: %s_\n\n", chat.Name, agent.Name)
	for _, m := range messages {
		fmt.Fprintf(&b, "**%s** · %s\n\n%s\n\n", author(m, agent), m.Timestamp.UTC().Format(time.RFC3339), m.Content)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

var transcriptTemplate = template.Must(template.New("transcript").Funcs(template.FuncMap{
	"markdown": SafeHTML,
	// author is rebound per agent in htmlTranscript.
	"author": func(m models.Message) string { return string(m.Sender) },
	"stamp":  func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Chat.Name}}</title></head>
<body>
<h1>{{.Chat.Name}}</h1>
<p class="agent">{{.Agent.Name}}</p>
{{range .Messages}}<div class="message {{.Sender}}">
<div class="meta"><span class="author">{{author .}}</span> <time datetime="{{stamp .Timestamp}}">{{stamp .Timestamp}}</time></div>
<div class="content">{{markdown .Content}}</div>
</div>
{{end}}</body>
</html>
`))

func htmlTranscript(w io.Writer, chat models.Chat, agent models.Agent, messages []models.Message) error {
	tmpl, err := transcriptTemplate.Clone()
	if err != nil {
		return err
	}
	tmpl.Funcs(template.FuncMap{"author": func(m models.Message) string { return author(m, agent) }})
	return tmpl.Execute(w, struct {
		Chat     models.Chat
		Agent    models.Agent
		Messages []models.Message
	}{chat, agent, messages})
}

package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashton/loopchat/internal/models"
)

func TestHTML_Code(t *testing.T) {
	out, err := HTML("use `go test`\n\n```go\nfmt.Println(1)\n```\n")
	require.NoError(t, err)
	assert.Contains(t, out, "<code>go test</code>")
	assert.Contains(t, out, `<pre><code class="language-go">`)
}

func TestSafeHTML_EscapesRawHTML(t *testing.T) {
	out := string(SafeHTML("<script>alert(1)</script>"))
	assert.NotContains(t, out, "<script>")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "héll...", Truncate("héllo world", 4))
}

func TestAgo(t *testing.T) {
	assert.Equal(t, "-", Ago(time.Time{}))
	assert.Equal(t, "just now", Ago(time.Now().Add(-10*time.Second)))
	assert.Equal(t, "3 hours ago", Ago(time.Now().Add(-3*time.Hour-time.Minute)))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("MD")
	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	_, err = ParseFormat("pdf")
	assert.Error(t, err)
}

func transcriptFixture() (models.Chat, models.Agent, []models.Message) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	chat := models.Chat{ID: "c1", Name: "Dinner"}
	agent := models.Agent{ID: "chef-agent", Name: "Chef Agent"}
	msgs := []models.Message{
		{ID: "m1", Content: "What should I cook?", Sender: models.SenderUser, Timestamp: ts},
		{ID: "m2", Content: "Try **risotto**.", Sender: models.SenderAgent, Timestamp: ts.Add(time.Minute),
			Attachments: []models.Attachment{{Name: "recipe.pdf"}}},
	}
	return chat, agent, msgs
}

func TestTranscript_Text(t *testing.T) {
	chat, agent, msgs := transcriptFixture()
	var buf bytes.Buffer
	require.NoError(t, Transcript(&buf, chat, agent, msgs, FormatText))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Dinner (with Chef Agent)\n"))
	assert.Contains(t, out, "You:\n  What should I cook?")
	assert.Contains(t, out, "Chef Agent:\n  Try **risotto**.")
	assert.Contains(t, out, "(attachment: recipe.pdf)")
}

func TestTranscript_Markdown(t *testing.T) {
	chat, agent, msgs := transcriptFixture()
	var buf bytes.Buffer
	require.NoError(t, Transcript(&buf, chat, agent, msgs, FormatMarkdown))
	assert.Contains(t, buf.String(), "# Dinner")
	assert.Contains(t, buf.String(), "**You** · 2024-05-01T12:00:00Z")
}

func TestTranscript_HTML(t *testing.T) {
	chat, agent, msgs := transcriptFixture()
	var buf bytes.Buffer
	require.NoError(t, Transcript(&buf, chat, agent, msgs, FormatHTML))

	out := buf.String()
	assert.Contains(t, out, "<title>Dinner</title>")
	assert.Contains(t, out, "<strong>risotto</strong>")
	assert.Contains(t, out, `<span class="author">Chef Agent</span>`)
	assert.Contains(t, out, `<span class="author">You</span>`)
}

func TestTerminal_Render(t *testing.T) {
	term, err := NewTerminal("notty", 80)
	require.NoError(t, err)

	out := term.Render("Use `go vet` before **every** push.")
	assert.Contains(t, out, "go vet")
	assert.Contains(t, out, "every")
	assert.NotContains(t, out, "\x1b[")
}

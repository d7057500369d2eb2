package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Terminal renders markdown content for a terminal. style is a glamour
// style name ("auto", "dark", "light", "notty"); width wraps the output.
type Terminal struct {
	r *glamour.TermRenderer
}

func NewTerminal(style string, width int) (*Terminal, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" || style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, fmt.Errorf("create terminal renderer: %w", err)
	}
	return &Terminal{r: r}, nil
}

// Render formats content; on failure the content is returned as-is.
func (t *Terminal) Render(content string) string {
	out, err := t.r.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(out, "\n")
}

package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// markdownRenderer converts finished answers from Markdown to styled
// terminal output. The glamour renderer is cached and only rebuilt when the
// wrap width actually changes.
type markdownRenderer struct {
	renderer *glamour.TermRenderer
	width    int // Cached width to avoid unnecessary recreation
}

func newTermRenderer(width int) (*glamour.TermRenderer, error) {
	return glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Detect light/dark terminal
		glamour.WithWordWrap(width),
	)
}

// newMarkdownRenderer creates a renderer with terminal-appropriate styling.
// Returns nil if initialization fails; callers fall back to plain text.
func newMarkdownRenderer(width int) *markdownRenderer {
	if width <= 0 {
		width = 80 // Default terminal width
	}

	r, err := newTermRenderer(width)
	if err != nil {
		return nil
	}
	return &markdownRenderer{renderer: r, width: width}
}

// UpdateWidth rebuilds the renderer only if width has actually changed.
// Reports whether the renderer was rebuilt.
func (r *markdownRenderer) UpdateWidth(width int) bool {
	if r == nil || width <= 0 || r.width == width {
		return false
	}

	tr, err := newTermRenderer(width)
	if err != nil {
		// Keep the existing renderer on error
		return false
	}

	r.renderer = tr
	r.width = width
	return true
}

// Render converts Markdown to styled terminal output.
// Returns the input unchanged when rendering is unavailable or fails.
func (r *markdownRenderer) Render(markdown string) string {
	if r == nil || r.renderer == nil {
		return markdown
	}

	rendered, err := r.renderer.Render(markdown)
	if err != nil {
		return markdown
	}

	// Trim trailing newlines added by glamour
	return strings.TrimSuffix(rendered, "\n")
}

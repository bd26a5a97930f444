package tui

import (
	"strings"

	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"

	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/client"
)

// View implements tea.Model.
// Uses AltScreen with a viewport for the scrollable transcript.
func (m *Model) View() tea.View {
	m.viewBuf.Reset()

	// Viewport (scrollable transcript area)
	_, _ = m.viewBuf.WriteString(m.viewport.View())
	_, _ = m.viewBuf.WriteString("\n")

	// Separator line above input
	_, _ = m.viewBuf.WriteString(m.renderSeparator())
	_, _ = m.viewBuf.WriteString("\n")

	// Input prompt - always show and always accept input
	// Users can type the next question while the answer streams
	_, _ = m.viewBuf.WriteString(m.styles.Prompt.Render("> "))
	_, _ = m.viewBuf.WriteString(m.input.View())
	_, _ = m.viewBuf.WriteString("\n")

	// Separator line below input
	_, _ = m.viewBuf.WriteString(m.renderSeparator())
	_, _ = m.viewBuf.WriteString("\n")

	// Help bar (keyboard shortcuts)
	_, _ = m.viewBuf.WriteString(m.renderStatusBar())

	v := tea.NewView(m.viewBuf.String())
	v.AltScreen = true
	v.MouseMode = tea.MouseModeCellMotion
	return v
}

// rebuildViewportContent reconstructs the viewport content from the session
// controller and local state. Called when messages, notices or state change.
func (m *Model) rebuildViewportContent() {
	m.viewport.SetContent(m.transcript())
}

// transcript renders the banner, the session's messages, the local notices
// and the in-flight indicators into one string.
func (m *Model) transcript() string {
	var b strings.Builder

	// Banner (ASCII art) and tips
	_, _ = b.WriteString(m.styles.RenderBanner())
	_, _ = b.WriteString("\n")
	_, _ = b.WriteString(m.styles.RenderWelcomeTips())
	_, _ = b.WriteString("\n")

	// Messages, ordinal-ordered by the controller
	msgs := m.ctrl.Messages()
	if len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	for _, mc := range msgs {
		m.renderMessage(&b, mc)
	}

	// Local echo of the submitted turn until the server confirms it
	if m.pending != "" {
		_, _ = b.WriteString(m.styles.User.Render("You> "))
		_, _ = b.WriteString(m.pending)
		_, _ = b.WriteString("\n\n")
	}

	// Notices (slash command output, cancellations, failures)
	for _, n := range m.notices {
		switch n.level {
		case noticeError:
			_, _ = b.WriteString(m.styles.Error.Render("Error: " + n.text))
		default:
			_, _ = b.WriteString(m.styles.System.Render(n.text))
		}
		_, _ = b.WriteString("\n\n")
	}

	// Thinking indicator, shown until the first data part arrives
	if m.state == StateThinking {
		_, _ = b.WriteString(m.spinner.View())
		_, _ = b.WriteString(" Thinking...\n\n")
	}

	return b.String()
}

// renderMessage renders one transcript entry. Finished answers go through
// the markdown renderer; a still-streaming answer stays plain text so
// half-open markdown doesn't flicker, with the pipeline state underneath.
func (m *Model) renderMessage(b *strings.Builder, mc *client.MessageController) {
	msg := mc.Message()
	switch msg.Role {
	case chat.RoleUser:
		_, _ = b.WriteString(m.styles.User.Render("You> "))
		_, _ = b.WriteString(msg.Content)

	case chat.RoleAssistant:
		_, _ = b.WriteString(m.styles.Assistant.Render("Tide> "))
		switch o := mc.Ongoing().(type) {
		case client.Streaming:
			_, _ = b.WriteString(msg.Content)
			_, _ = b.WriteString("\n")
			_, _ = b.WriteString(m.spinner.View())
			_, _ = b.WriteString(" ")
			_, _ = b.WriteString(m.styles.System.Render(o.Display))
		case client.Errored:
			if msg.Content != "" {
				_, _ = b.WriteString(msg.Content)
				_, _ = b.WriteString("\n")
			}
			_, _ = b.WriteString(m.styles.Error.Render("Error: " + o.Message))
		default:
			_, _ = b.WriteString(m.markdown.Render(msg.Content))
		}

	default:
		_, _ = b.WriteString(m.styles.System.Render(msg.Content))
	}
	_, _ = b.WriteString("\n\n")
}

// renderSeparator returns a horizontal line separator.
func (m *Model) renderSeparator() string {
	width := m.width
	if width <= 0 {
		width = 80 // Default width
	}
	return m.styles.Separator.Render(strings.Repeat("─", width))
}

// renderStatusBar returns state-appropriate keyboard shortcut help.
func (m *Model) renderStatusBar() string {
	var bindings []key.Binding
	switch m.state {
	case StateInput:
		bindings = []key.Binding{
			m.keys.Submit, m.keys.NewLine, m.keys.History,
			m.keys.Cancel, m.keys.Quit, m.keys.ScrollUp,
		}
	case StateThinking, StateStreaming:
		bindings = []key.Binding{
			m.keys.EscCancel, m.keys.Cancel,
			m.keys.ScrollUp, m.keys.ScrollDown,
		}
	}
	return m.help.ShortHelpView(bindings)
}

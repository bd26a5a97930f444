package tui

import (
	"context"
	"errors"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
)

// Update implements tea.Model.
//
//nolint:gocognit,gocyclo // Bubble Tea Update requires type switch on all message types
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		// Calculate viewport height: total - input - separators - help
		inputHeight := m.input.Height() + promptLines
		fixedHeight := separatorLines + inputHeight + helpLines
		vpHeight := max(msg.Height-fixedHeight, minViewport)

		m.viewport.SetWidth(msg.Width)
		m.viewport.SetHeight(vpHeight)
		m.input.SetWidth(msg.Width - 4) // Room for "> " prompt
		m.help.SetWidth(msg.Width)
		m.markdown.UpdateWidth(msg.Width)

		// Rebuild viewport content with new dimensions
		m.rebuildViewportContent()
		return m, nil

	case tea.MouseWheelMsg:
		// Forward mouse wheel to viewport for scrolling
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		// While a post is in flight the message controllers accumulate
		// answer deltas without a notification per token; sampling on the
		// spinner cadence keeps the transcript live.
		if m.state != StateInput {
			m.rebuildViewportContent()
			m.viewport.GotoBottom()
		}
		return m, cmd

	case postStartedMsg:
		m.postCancel = msg.cancel
		m.postCh = msg.eventCh
		m.rebuildViewportContent()
		m.viewport.GotoBottom()
		return m, listenForSession(msg.eventCh)

	case postRefreshMsg:
		m.rebuildViewportContent()
		m.viewport.GotoBottom()
		return m, listenForSession(m.postCh)

	case postInitializedMsg:
		m.state = StateStreaming
		m.pending = "" // the server echoed the user turn; drop the local copy
		m.rebuildViewportContent()
		m.viewport.GotoBottom()
		return m, listenForSession(m.postCh)

	case postDoneMsg:
		m.settlePost()
		m.rebuildViewportContent()
		m.viewport.GotoBottom()
		// Re-focus textarea after the answer completes
		return m, m.input.Focus()

	case postErrorMsg:
		m.settlePost()

		switch {
		case errors.Is(msg.err, context.Canceled):
			m.addNotice(notice{level: noticeInfo, text: "(Canceled)"})
		case errors.Is(msg.err, context.DeadlineExceeded):
			m.addNotice(notice{level: noticeError, text: "Answer timed out (>5 min). Try a narrower question."})
		default:
			m.addNotice(notice{level: noticeError, text: msg.err.Error()})
		}
		m.rebuildViewportContent()
		m.viewport.GotoBottom()
		// Re-focus textarea after error
		return m, m.input.Focus()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// settlePost returns the UI to the input state and releases the post's
// context and event channel.
func (m *Model) settlePost() {
	m.state = StateInput
	m.pending = ""

	// Cancel context to release timer resources
	if m.postCancel != nil {
		m.postCancel()
		m.postCancel = nil
	}
	m.postCh = nil
}

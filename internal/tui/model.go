package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textarea"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/tidegraph/tidegraph/internal/client"
)

// State represents the TUI state machine.
type State int

// TUI state machine states.
const (
	StateInput     State = iota // Awaiting user input
	StateThinking               // Post sent, waiting for the first data part
	StateStreaming              // Answer parts are arriving
)

// Memory bounds to prevent unbounded growth.
const (
	maxMessages = 100 // Maximum transcript messages rendered
	maxHistory  = 100 // Maximum input history entries
	maxNotices  = 20  // Maximum local notice lines
)

// streamTimeout bounds a single post end to end.
const streamTimeout = 5 * time.Minute

// chatOrigin is recorded on chats created from this UI.
const chatOrigin = "cli"

// Layout constants for viewport height calculation.
const (
	separatorLines = 2 // Two separator lines (above and below input)
	helpLines      = 1 // Help bar height
	promptLines    = 1 // Prompt prefix line
	minViewport    = 3 // Minimum viewport height
)

// noticeLevel classifies a local notice line.
type noticeLevel int

const (
	noticeInfo noticeLevel = iota
	noticeError
)

// notice is a UI-local line rendered under the transcript: slash command
// output, cancellations, transport failures. Chat messages live in the
// session controller, never here.
type notice struct {
	level noticeLevel
	text  string
}

// Model is the Bubble Tea model for the tidegraph chat interface.
type Model struct {
	// Input (textarea for multi-line support, Shift+Enter for newline)
	input      textarea.Model
	history    []string
	historyIdx int

	// State
	state     State
	lastCtrlC time.Time
	pending   string // user turn echoed locally until the server confirms it

	// Output
	spinner spinner.Model
	viewBuf strings.Builder // Reusable buffer for View() to reduce allocations
	notices []notice

	// Scrollable transcript viewport
	viewport viewport.Model

	// Help bar for keyboard shortcuts
	help help.Model
	keys keyMap

	// Post lifecycle
	// Note: no sync.WaitGroup - Bubble Tea's event loop provides
	// synchronization. A single union channel with discriminated events
	// keeps the select logic flat.
	postCancel context.CancelFunc
	postCh     <-chan sessionEvent

	// Dependencies
	ctrl       *client.Controller
	newSession func() *client.Controller
	ctx        context.Context
	ctxCancel  context.CancelFunc // For canceling all operations on exit

	// Dimensions
	width  int
	height int

	// Styles
	styles Styles

	// Markdown rendering (nil = graceful degradation to plain text)
	markdown *markdownRenderer
}

// addNotice appends a notice and enforces the maxNotices bound.
func (m *Model) addNotice(n notice) {
	m.notices = append(m.notices, n)
	if len(m.notices) > maxNotices {
		// Remove oldest notices to stay within bounds
		m.notices = m.notices[len(m.notices)-maxNotices:]
	}
}

// New creates a Model bound to a session controller from newSession.
// Returns an error if required dependencies are missing.
//
// IMPORTANT: ctx MUST be the same context passed to tea.WithContext()
// to ensure consistent cancellation behavior.
func New(ctx context.Context, newSession func() *client.Controller) (*Model, error) {
	if ctx == nil {
		return nil, errors.New("tui.New: ctx is required")
	}
	if newSession == nil {
		return nil, errors.New("tui.New: session factory is required")
	}
	ctrl := newSession()
	if ctrl == nil {
		return nil, errors.New("tui.New: session factory returned nil")
	}

	// Create cancellable context for cleanup on exit
	ctx, cancel := context.WithCancel(ctx)

	// Create textarea for multi-line input
	// Enter submits, Shift+Enter adds newline (default behavior)
	ta := textarea.New()
	ta.Placeholder = "Ask your knowledge bases anything..."
	ta.SetHeight(1)  // Single line by default
	ta.SetWidth(120) // Wide enough for long text, updated on WindowSizeMsg
	ta.MaxWidth = 0  // No max width limit
	ta.ShowLineNumbers = false

	// No background colors, just simple text
	cleanStyle := textarea.StyleState{
		Base:        lipgloss.NewStyle(),
		Text:        lipgloss.NewStyle(),
		Placeholder: lipgloss.NewStyle().Foreground(lipgloss.Color("240")), // Gray placeholder
		Prompt:      lipgloss.NewStyle(),
	}
	ta.SetStyles(textarea.Styles{
		Focused: cleanStyle,
		Blurred: cleanStyle,
	})
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	// Create viewport for the scrollable transcript.
	// Disable built-in keyboard handling — we route keys explicitly
	// in handleKey to avoid conflicts with textarea/history navigation.
	vp := viewport.New(viewport.WithWidth(80), viewport.WithHeight(20))
	vp.MouseWheelEnabled = true
	vp.SoftWrap = true
	vp.KeyMap = viewport.KeyMap{} // Disable default key bindings

	h := help.New()

	return &Model{
		ctrl:       ctrl,
		newSession: newSession,
		ctx:        ctx,
		ctxCancel:  cancel,
		input:      ta,
		spinner:    sp,
		viewport:   vp,
		help:       h,
		keys:       newKeyMap(),
		styles:     DefaultStyles(),
		history:    make([]string, 0, maxHistory),
		markdown:   newMarkdownRenderer(80),
		width:      80, // Default width until WindowSizeMsg arrives
	}, nil
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		m.input.Focus(), // Ensure textarea is focused on startup
	)
}

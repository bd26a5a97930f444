package client

import (
	"strings"
	"sync"

	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/stream"
)

// Ongoing is the transient streaming status attached to a message while its
// answer is being produced. A nil Ongoing means idle: the message either
// never streamed or was loaded already complete.
//
// The variants form a tagged union; consumers type-switch:
//
//	switch o := mc.Ongoing().(type) {
//	case nil:            // idle
//	case client.Streaming: // o.State, o.Display
//	case client.Errored:   // o.Message
//	case client.Finished:  // stream completed
//	}
type Ongoing interface {
	ongoing()
}

// Streaming reports an in-flight answer and the current pipeline state.
type Streaming struct {
	State   stream.State
	Display string
}

// Errored marks a message whose stream terminated with an error. Terminal:
// no delta or annotation is applied afterwards.
type Errored struct {
	Message string
}

// Finished marks a message whose streamed text has been folded into its
// content. Terminal.
type Finished struct{}

func (Streaming) ongoing() {}
func (Errored) ongoing()   {}
func (Finished) ongoing()  {}

// MessageController tracks one message through its streaming lifecycle: the
// latest snapshot received from the server, text accumulated from deltas, and
// the transient ongoing status. Controllers are created by the session
// controller and shared with the UI by pointer; all methods are safe for
// concurrent use.
type MessageController struct {
	mu      sync.Mutex
	msg     chat.Message
	buf     strings.Builder
	ongoing Ongoing
	done    bool
}

func newMessageController(msg chat.Message, ongoing Ongoing) *MessageController {
	return &MessageController{msg: msg, ongoing: ongoing}
}

// Message returns the current snapshot. While deltas are accumulating, the
// content reflects the text streamed so far rather than the last snapshot
// received, so the UI can render partial answers.
func (mc *MessageController) Message() chat.Message {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	m := mc.msg
	if mc.buf.Len() > 0 {
		m.Content = mc.buf.String()
	}
	return m
}

// Ongoing reports the transient streaming status; nil means idle.
func (mc *MessageController) Ongoing() Ongoing {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.ongoing
}

// Done reports whether the controller reached a terminal state, either
// finished or errored.
func (mc *MessageController) Done() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.done
}

// Update replaces the message snapshot. Allowed even after a terminal state:
// a late data part may refresh persisted fields, but it never re-opens the
// ongoing state.
func (mc *MessageController) Update(msg chat.Message) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.msg = msg
}

// ApplyDelta appends one streamed text fragment to the accumulated content.
// The final content on Finish equals the concatenation of all deltas in
// arrival order, regardless of snapshot updates in between. Deltas arriving
// after a terminal state are dropped.
func (mc *MessageController) ApplyDelta(delta string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.done {
		return
	}
	mc.buf.WriteString(delta)
}

// ApplyStreamAnnotation replaces the ongoing processing state and display
// text. Annotations never touch the accumulated content. Ignored once the
// controller is terminal.
func (mc *MessageController) ApplyStreamAnnotation(a stream.Annotation) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.done {
		return
	}

	display := a.Display
	if display == "" {
		display = a.State.DisplayText()
	}
	mc.ongoing = Streaming{State: a.State, Display: display}
}

// ApplyError marks the message errored. Terminal: subsequent deltas and
// annotations are dropped, and Finish keeps the error state.
func (mc *MessageController) ApplyError(message string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.done {
		return
	}
	mc.done = true
	mc.ongoing = Errored{Message: message}
}

// Finish folds the accumulated text into the message snapshot and returns the
// finalized message; the caller persists it into the session via
// UpsertMessage. Idempotent: a second call returns the same message without
// further effect. A controller that already errored stays errored; Finish
// then only returns the snapshot.
func (mc *MessageController) Finish() chat.Message {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if !mc.done {
		mc.done = true
		mc.ongoing = Finished{}
	}
	if mc.buf.Len() > 0 {
		mc.msg.Content = mc.buf.String()
		mc.buf.Reset()
	}
	return mc.msg
}

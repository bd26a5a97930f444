package client

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/log"
	"github.com/tidegraph/tidegraph/internal/stream"
)

// FocusTarget is a UI input element the controller can ask to take focus.
// Binding one is optional and never participates in the streaming state
// machine; it exists so the UI can refocus its input after a post settles.
type FocusTarget interface {
	Focus()
}

// Controller is the single source of truth for one chat on the client side:
// the chat snapshot, the message controllers keyed by message ID, and the
// lifecycle of the in-flight post. UIs bind to it through the typed hubs in
// Events.
//
// At most one post is in flight at a time. Stream parts are dispatched
// strictly in arrival order on the goroutine that called Post; the hubs fire
// synchronously from that same goroutine.
type Controller struct {
	transport Transport
	logger    log.Logger

	mu          sync.Mutex
	chat        *chat.Chat
	controllers map[uuid.UUID]*MessageController
	posting     *PostParams
	initialized bool
	lastErr     error
	active      *MessageController
	input       FocusTarget

	events Events
}

// New creates a session controller backed by the given transport. A nil
// logger falls back to slog's default. The controller starts without a chat;
// the first post creates one server-side, or seed an existing session via
// UpdateChat and UpsertMessage.
func New(transport Transport, logger log.Logger) *Controller {
	if logger == nil {
		logger = log.New(log.Config{})
	}
	return &Controller{
		transport:   transport,
		logger:      logger,
		controllers: make(map[uuid.UUID]*MessageController),
	}
}

// Events exposes the controller's notification hubs for subscription.
func (c *Controller) Events() *Events { return &c.events }

// Chat returns the current chat snapshot, if one has been established.
func (c *Controller) Chat() (chat.Chat, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chat == nil {
		return chat.Chat{}, false
	}
	return *c.chat, true
}

// Posting reports whether a post is currently in flight.
func (c *Controller) Posting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.posting != nil
}

// LastPostError returns the failure captured by the most recent post, or nil.
// It is cleared when the next post starts.
func (c *Controller) LastPostError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Messages returns the session's message controllers ordered by ordinal.
// Ordinal is the sole ordering key; the order messages were inserted into
// the session is irrelevant.
func (c *Controller) Messages() []*MessageController {
	c.mu.Lock()
	out := make([]*MessageController, 0, len(c.controllers))
	for _, mc := range c.controllers {
		out = append(out, mc)
	}
	c.mu.Unlock()

	slices.SortFunc(out, func(a, b *MessageController) int {
		return cmp.Compare(a.Message().Ordinal, b.Message().Ordinal)
	})
	return out
}

// Post submits one user turn and drives the resulting stream to completion.
// It blocks until the stream ends, so callers that must stay responsive run
// it on its own goroutine and observe progress through Events.
//
// Preconditions fail fast without side effects: ErrAlreadyPosting when a post
// is in flight, ErrEmptyMessage when the content trims to nothing. Whatever
// happens during streaming, the controller returns to a postable state before
// PostFinished or PostError fires, so a subscriber may retry immediately.
func (c *Controller) Post(ctx context.Context, params PostParams) (err error) {
	c.mu.Lock()
	if c.posting != nil {
		c.mu.Unlock()
		return ErrAlreadyPosting
	}
	if strings.TrimSpace(params.Content) == "" {
		c.mu.Unlock()
		return ErrEmptyMessage
	}

	p := params
	c.posting = &p
	c.initialized = false
	c.lastErr = nil
	c.active = nil

	var chatID *uuid.UUID
	if c.chat != nil {
		id := c.chat.ID
		chatID = &id
	}
	c.mu.Unlock()

	// Panic recovery so a misbehaving transport or subscriber cannot leave
	// the controller stuck in the posting state.
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("stream panic recovered", "panic", r)
			err = c.failPost(fmt.Errorf("stream panic: %v", r))
		}
	}()

	c.events.Post.emit(params)

	for part, streamErr := range c.transport.Stream(ctx, chatID, params) {
		if streamErr != nil {
			return c.failPost(streamErr)
		}
		if err := c.dispatch(part); err != nil {
			return c.failPost(err)
		}
	}
	return c.finishPost()
}

// dispatch routes one stream part. Text, annotation and error parts require
// an active message controller; its absence is a contract breach by the
// server and aborts the stream with ErrMalformedStream.
func (c *Controller) dispatch(part stream.Part) error {
	switch p := part.(type) {
	case stream.DataPart:
		c.applyData(p.Payload)
		return nil

	case stream.TextPart:
		// An empty delta carries nothing and is ignored even before the
		// first data part.
		if p.Delta == "" {
			return nil
		}
		mc := c.activeController()
		if mc == nil {
			return fmt.Errorf("%w: text part before any data part", ErrMalformedStream)
		}
		mc.ApplyDelta(p.Delta)
		return nil

	case stream.AnnotationPart:
		mc := c.activeController()
		if mc == nil {
			return fmt.Errorf("%w: message_annotations part before any data part", ErrMalformedStream)
		}
		mc.ApplyStreamAnnotation(p.Annotation)
		return nil

	case stream.ErrorPart:
		mc := c.activeController()
		if mc == nil {
			return fmt.Errorf("%w: error part before any data part", ErrMalformedStream)
		}
		mc.ApplyError(p.Message)
		return nil

	case stream.UnknownPart:
		// Forward compatible: newer servers may add part kinds.
		c.logger.Debug("ignoring unknown stream part", "event", p.Event)
		return nil

	default:
		c.logger.Debug("ignoring unknown stream part", "kind", part.Kind())
		return nil
	}
}

// applyData handles a data part. The first one of a post establishes the
// assistant message controller and initializes the post; every later one is
// an update-only snapshot refresh.
func (c *Controller) applyData(payload stream.DataPayload) {
	c.UpdateChat(payload.Chat)
	c.UpsertMessage(payload.UserMessage)

	c.mu.Lock()
	if !c.initialized {
		c.initialized = true
		mc := newMessageController(payload.AssistantMessage, Streaming{
			State:   stream.StateConnecting,
			Display: stream.StateConnecting.DisplayText(),
		})
		c.controllers[payload.AssistantMessage.ID] = mc
		c.active = mc
		c.mu.Unlock()

		c.events.MessageLoaded.emit(mc)
		c.events.PostInitialized.emit(payload)
		return
	}
	active := c.active
	c.mu.Unlock()

	// The protocol expects exactly two data parts; more arrive only from a
	// misbehaving server. They refresh the snapshot but never re-open a
	// terminal message.
	if active != nil && active.Done() {
		c.logger.Warn("data part after assistant message reached a terminal state, applying as update only",
			"message_id", payload.AssistantMessage.ID)
	}
	c.UpsertMessage(payload.AssistantMessage)
}

// UpdateChat shallow-merges a chat snapshot over the current one: zero-value
// fields in the incoming snapshot keep their existing values. The first call
// establishes the chat and emits Created; every later call emits Updated.
func (c *Controller) UpdateChat(ch chat.Chat) {
	c.mu.Lock()
	first := c.chat == nil
	if first {
		cp := ch
		c.chat = &cp
	} else {
		mergeChat(c.chat, ch)
	}
	snapshot := *c.chat
	c.mu.Unlock()

	if first {
		c.events.Created.emit(snapshot)
	} else {
		c.events.Updated.emit(snapshot)
	}
}

func mergeChat(dst *chat.Chat, src chat.Chat) {
	if src.ID != uuid.Nil {
		dst.ID = src.ID
	}
	if src.Title != "" {
		dst.Title = src.Title
	}
	if src.Origin != "" {
		dst.Origin = src.Origin
	}
	if !src.CreatedAt.IsZero() {
		dst.CreatedAt = src.CreatedAt
	}
	if !src.UpdatedAt.IsZero() {
		dst.UpdatedAt = src.UpdatedAt
	}
}

// UpsertMessage reconciles one message snapshot into the session. An existing
// controller is updated in place; otherwise a new controller is created and
// MessageLoaded fires. Idempotent under repeated identical snapshots.
func (c *Controller) UpsertMessage(msg chat.Message) *MessageController {
	c.mu.Lock()
	if mc, ok := c.controllers[msg.ID]; ok {
		c.mu.Unlock()
		mc.Update(msg)
		return mc
	}
	mc := newMessageController(msg, nil)
	c.controllers[msg.ID] = mc
	c.mu.Unlock()

	c.events.MessageLoaded.emit(mc)
	return mc
}

// failPost applies a stream failure to the active message controller, records
// it, restores the postable state and emits PostError.
func (c *Controller) failPost(err error) error {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.posting = nil
	c.lastErr = err
	c.mu.Unlock()

	if active != nil {
		active.ApplyError(err.Error())
	}
	c.logger.Error("chat post failed", "error", err)
	c.events.PostError.emit(err)
	return err
}

// finishPost finalizes the active message controller after a normal stream
// end, persists the finalized message back into the session and emits
// PostFinished.
func (c *Controller) finishPost() error {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.posting = nil
	c.mu.Unlock()

	if active == nil {
		c.logger.Warn("chat stream ended before any data part arrived")
		c.events.PostFinished.emit(chat.Message{})
		return nil
	}

	final := active.Finish()
	c.UpsertMessage(final)
	c.events.PostFinished.emit(final)
	return nil
}

func (c *Controller) activeController() *MessageController {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// BindInput attaches the UI input the controller may focus and emits
// InputMounted. A later call replaces the previous target.
func (c *Controller) BindInput(t FocusTarget) {
	if t == nil {
		return
	}
	c.mu.Lock()
	c.input = t
	c.mu.Unlock()
	c.events.InputMounted.emit(t)
}

// UnbindInput detaches the given target and emits InputUnmounted. Targets
// other than the currently bound one are ignored, so a stale unmount from a
// replaced input is harmless.
func (c *Controller) UnbindInput(t FocusTarget) {
	c.mu.Lock()
	if t == nil || c.input != t {
		c.mu.Unlock()
		return
	}
	c.input = nil
	c.mu.Unlock()
	c.events.InputUnmounted.emit(t)
}

// FocusInput asks the bound input, if any, to take focus.
func (c *Controller) FocusInput() {
	c.mu.Lock()
	t := c.input
	c.mu.Unlock()
	if t != nil {
		t.Focus()
	}
}

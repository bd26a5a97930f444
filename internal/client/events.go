package client

import (
	"sync"

	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/stream"
)

// Hub is a minimal typed publish/subscribe primitive: one event name, one
// payload type, no reflection. Subscribers run synchronously on the goroutine
// that emits, in registration order, so notifications observe the exact order
// of the stream parts that triggered them.
//
// Emitting is reserved to this package; consumers only subscribe.
type Hub[T any] struct {
	mu   sync.Mutex
	next int
	subs []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Subscribe registers fn and returns a cancel function that removes it.
// Cancel is idempotent and safe to call from inside fn.
func (h *Hub[T]) Subscribe(fn func(T)) (cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	h.subs = append(h.subs, subscriber[T]{id: id, fn: fn})

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, s := range h.subs {
			if s.id == id {
				h.subs = append(h.subs[:i], h.subs[i+1:]...)
				return
			}
		}
	}
}

// emit delivers v to every subscriber registered at the time of the call.
// The subscriber list is snapshotted first, so a callback may subscribe or
// cancel without deadlocking.
func (h *Hub[T]) emit(v T) {
	h.mu.Lock()
	fns := make([]func(T), len(h.subs))
	for i, s := range h.subs {
		fns[i] = s.fn
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Events groups one typed hub per chat session notification. Each post emits,
// in part-arrival order: Post, then Created or Updated and MessageLoaded as
// data parts land, PostInitialized exactly once for the first data part, and
// finally PostFinished or PostError. PostInitialized always precedes
// PostFinished/PostError when the stream reached a data part.
type Events struct {
	// Created fires when the first chat snapshot is established,
	// typically because the server created the chat for the first post.
	Created Hub[chat.Chat]

	// Updated fires on every later chat snapshot merge.
	Updated Hub[chat.Chat]

	// MessageLoaded fires when a message controller is created, either by
	// UpsertMessage for a previously unseen message or by the first data
	// part of a post creating the assistant controller.
	MessageLoaded Hub[*MessageController]

	// Post fires when a post passed its preconditions, before the
	// transport is opened.
	Post Hub[PostParams]

	// PostInitialized fires once per post, when the first data part
	// echoes back the chat and message identifiers.
	PostInitialized Hub[stream.DataPayload]

	// PostFinished fires when the stream ends normally. The payload is
	// the finalized assistant message, or a zero Message if the stream
	// ended before any data part arrived.
	PostFinished Hub[chat.Message]

	// PostError fires when the stream fails: a transport error, a decode
	// error, or a protocol violation (ErrMalformedStream).
	PostError Hub[error]

	// InputMounted and InputUnmounted track the optional focus target
	// bound via BindInput/UnbindInput. Pure UI glue; no streaming
	// invariant depends on them.
	InputMounted   Hub[FocusTarget]
	InputUnmounted Hub[FocusTarget]
}

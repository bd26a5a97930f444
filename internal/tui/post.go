package tui

import (
	"context"
	"fmt"
	"log/slog"

	tea "charm.land/bubbletea/v2"

	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/client"
	"github.com/tidegraph/tidegraph/internal/stream"
)

// sessionBufferSize absorbs hub notifications between listen cycles. One
// post emits a handful of events (chat snapshot, message upserts, the
// initialized signal, one terminal event), so the buffer mainly covers
// render stalls.
const sessionBufferSize = 16

// sessionEvent is a discriminated union for all post lifecycle events.
// Using a single channel with a union type simplifies select logic
// and eliminates multi-channel closure handling.
type sessionEvent struct {
	// Exactly one of these fields is set per event
	refresh     bool  // a chat or message snapshot landed; re-render
	initialized bool  // first data part arrived; the answer is streaming
	done        bool  // post settled cleanly
	err         error // post failed
}

// Post lifecycle message types for Bubble Tea
type postStartedMsg struct {
	eventCh <-chan sessionEvent
	cancel  context.CancelFunc
}

type postRefreshMsg struct{}

type postInitializedMsg struct{}

type postDoneMsg struct{}

type postErrorMsg struct {
	err error
}

// startPost creates a command that submits one user turn through the
// session controller and bridges its hub notifications into the event
// channel.
//
// Goroutine lifecycle: controller.Post blocks until the stream settles, so
// it runs on its own goroutine and exits when:
//  1. The stream completes normally
//  2. The post context is canceled (Esc, Ctrl+C, timeout)
//  3. The transport or the part protocol fails
//
// Channel closure signals goroutine completion - no WaitGroup needed.
func (m *Model) startPost(content string) tea.Cmd {
	return func() tea.Msg {
		eventCh := make(chan sessionEvent, sessionBufferSize)

		// Create context with timeout to prevent indefinite hangs
		ctx, cancel := context.WithTimeout(m.ctx, streamTimeout)

		// Hub callbacks run synchronously on the posting goroutine, so
		// forward best-effort: a dropped refresh is harmless because the
		// spinner tick re-samples controller state anyway, and stalling
		// the stream on a slow render is not.
		forward := func(e sessionEvent) {
			select {
			case eventCh <- e:
			default:
			}
		}
		ev := m.ctrl.Events()
		unsubscribe := []func(){
			ev.Created.Subscribe(func(chat.Chat) { forward(sessionEvent{refresh: true}) }),
			ev.Updated.Subscribe(func(chat.Chat) { forward(sessionEvent{refresh: true}) }),
			ev.MessageLoaded.Subscribe(func(*client.MessageController) { forward(sessionEvent{refresh: true}) }),
			ev.PostInitialized.Subscribe(func(stream.DataPayload) { forward(sessionEvent{initialized: true}) }),
		}

		go func() {
			// Ensure timer resources are released on all exit paths
			defer cancel()
			// Channel closure signals goroutine completion
			defer close(eventCh)
			defer func() {
				for _, cancelSub := range unsubscribe {
					cancelSub()
				}
			}()

			// Panic recovery to prevent TUI lockup
			defer func() {
				if r := recover(); r != nil {
					slog.Error("post panic recovered", "panic", r)
					forward(sessionEvent{err: fmt.Errorf("post panic: %v", r)})
				}
			}()

			// Post blocks until the stream settles; progress arrives
			// through the hub subscriptions above. The terminal event is
			// also sent best-effort: if the listener is gone the closed
			// channel tells the story, and a live listener always drains.
			if err := m.ctrl.Post(ctx, client.PostParams{Content: content, Origin: chatOrigin}); err != nil {
				forward(sessionEvent{err: err})
				return
			}
			forward(sessionEvent{done: true})
		}()

		return postStartedMsg{
			eventCh: eventCh,
			cancel:  cancel,
		}
	}
}

// listenForSession creates a command to wait for the next post event.
// Uses a single union channel - no multi-channel select needed.
// Empty events (all fields zero) are skipped via loop instead of recursion
// to prevent stack overflow under pathological conditions.
func listenForSession(eventCh <-chan sessionEvent) tea.Cmd {
	return func() tea.Msg {
		if eventCh == nil {
			return nil
		}

		for {
			event, ok := <-eventCh
			if !ok {
				// Channel closed - the post ended without a terminal event
				return postErrorMsg{err: fmt.Errorf("chat stream ended without a completion signal")}
			}

			// Discriminated union dispatch
			switch {
			case event.err != nil:
				return postErrorMsg{err: event.err}
			case event.done:
				return postDoneMsg{}
			case event.initialized:
				return postInitializedMsg{}
			case event.refresh:
				return postRefreshMsg{}
			default:
				// Empty event - loop instead of recursing
				continue
			}
		}
	}
}

package testutil

import (
	"bufio"
	"strings"
	"testing"
)

// SSEEvent is one parsed Server-Sent Event.
type SSEEvent struct {
	Type string // event: field, "message" when absent
	Data string // data: lines joined with \n
}

// ParseSSEEvents parses a recorded SSE response body into events.
//
// Follows the W3C framing rules the handlers emit: a blank line terminates
// an event, repeated data: lines join with newline, a data: line without a
// preceding event: line belongs to the default "message" event, and lines
// starting with ":" are comments. Anything else fails the test — handler
// output is fully under our control, so stray lines are bugs.
func ParseSSEEvents(t *testing.T, body string) []SSEEvent {
	t.Helper()

	var (
		events    []SSEEvent
		eventType string
		dataLines []string
	)

	flush := func() {
		if eventType == "" && len(dataLines) == 0 {
			return
		}
		if eventType == "" {
			eventType = "message"
		}
		events = append(events, SSEEvent{Type: eventType, Data: strings.Join(dataLines, "\n")})
		eventType = ""
		dataLines = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		switch {
		case text == "":
			flush()
		case strings.HasPrefix(text, "event: "):
			if eventType != "" {
				t.Fatalf("line %d: event %q started before %q was terminated", line, text, eventType)
			}
			eventType = strings.TrimPrefix(text, "event: ")
		case strings.HasPrefix(text, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(text, "data: "))
		case strings.HasPrefix(text, ":"):
			// comment, ignored
		default:
			t.Fatalf("line %d: unexpected SSE line %q", line, text)
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanning SSE body: %v", err)
	}
	if eventType != "" || len(dataLines) > 0 {
		t.Fatalf("SSE body ended inside event %q (missing blank line)", eventType)
	}

	return events
}

// FindEvent returns the first event of the given type, or nil.
func FindEvent(events []SSEEvent, eventType string) *SSEEvent {
	for i := range events {
		if events[i].Type == eventType {
			return &events[i]
		}
	}
	return nil
}

// FilterEvents returns all events of the given type, in order.
func FilterEvents(events []SSEEvent, eventType string) []SSEEvent {
	var found []SSEEvent
	for _, e := range events {
		if e.Type == eventType {
			found = append(found, e)
		}
	}
	return found
}

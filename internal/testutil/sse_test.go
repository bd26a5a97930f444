package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSSEEvents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want []SSEEvent
	}{
		{
			name: "empty body",
			body: "",
			want: nil,
		},
		{
			name: "single event",
			body: "event: data\ndata: {\"ok\":true}\n\n",
			want: []SSEEvent{{Type: "data", Data: `{"ok":true}`}},
		},
		{
			name: "multiple events in order",
			body: "event: text\ndata: \"hello\"\n\nevent: text\ndata: \" world\"\n\nevent: error\ndata: \"boom\"\n\n",
			want: []SSEEvent{
				{Type: "text", Data: `"hello"`},
				{Type: "text", Data: `" world"`},
				{Type: "error", Data: `"boom"`},
			},
		},
		{
			name: "multi-line data joins with newline",
			body: "event: data\ndata: line one\ndata: line two\n\n",
			want: []SSEEvent{{Type: "data", Data: "line one\nline two"}},
		},
		{
			name: "data without event type defaults to message",
			body: "data: bare\n\n",
			want: []SSEEvent{{Type: "message", Data: "bare"}},
		},
		{
			name: "comments are skipped",
			body: ": keep-alive\nevent: data\ndata: x\n\n",
			want: []SSEEvent{{Type: "data", Data: "x"}},
		},
		{
			name: "extra blank lines between events",
			body: "event: a\ndata: 1\n\n\n\nevent: b\ndata: 2\n\n",
			want: []SSEEvent{
				{Type: "a", Data: "1"},
				{Type: "b", Data: "2"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParseSSEEvents(t, tt.body)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindEvent(t *testing.T) {
	t.Parallel()

	events := []SSEEvent{
		{Type: "data", Data: "first"},
		{Type: "text", Data: "a"},
		{Type: "text", Data: "b"},
		{Type: "data", Data: "last"},
	}

	found := FindEvent(events, "text")
	require.NotNil(t, found)
	assert.Equal(t, "a", found.Data, "FindEvent returns the first match")

	assert.Nil(t, FindEvent(events, "error"))
}

func TestFilterEvents(t *testing.T) {
	t.Parallel()

	events := []SSEEvent{
		{Type: "data", Data: "first"},
		{Type: "text", Data: "a"},
		{Type: "text", Data: "b"},
		{Type: "data", Data: "last"},
	}

	texts := FilterEvents(events, "text")
	require.Len(t, texts, 2)
	assert.Equal(t, "a", texts[0].Data)
	assert.Equal(t, "b", texts[1].Data)

	assert.Empty(t, FilterEvents(events, "error"))
}

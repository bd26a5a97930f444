// Package stream defines the typed part protocol of a chat answer stream and
// its SSE wire encoding.
//
// A chat answer is delivered as an ordered, finite sequence of parts:
//
//	data               — chat + user message + assistant message snapshot
//	text               — one answer text delta
//	message_annotations — retrieval progress (state enum + display text)
//	error              — terminal failure description
//
// The data part arrives twice per answer: once near the start to establish
// identifiers, once at the end with the final persisted state. Producers
// (internal/rag) and consumers (internal/client) share these types; the wire
// format lives in codec.go and writer.go.
package stream

import (
	"encoding/json"

	"github.com/tidegraph/tidegraph/internal/chat"
)

// Kind identifies a part's type on the wire.
type Kind string

const (
	KindData        Kind = "data"
	KindText        Kind = "text"
	KindAnnotations Kind = "message_annotations"
	KindError       Kind = "error"
)

// Part is one unit of a chat stream, tagged by kind.
// Implementations: DataPart, TextPart, AnnotationPart, ErrorPart, UnknownPart.
type Part interface {
	Kind() Kind

	// sealed limits implementations to this package so consumers can
	// type-switch exhaustively.
	sealed()
}

// DataPayload is the object carried by a data part.
type DataPayload struct {
	Chat             chat.Chat    `json:"chat"`
	UserMessage      chat.Message `json:"user_message"`
	AssistantMessage chat.Message `json:"assistant_message"`
}

// DataPart establishes or updates the chat and message snapshot.
type DataPart struct {
	Payload DataPayload
}

func (DataPart) Kind() Kind { return KindData }
func (DataPart) sealed()    {}

// TextPart carries one answer text delta.
type TextPart struct {
	Delta string
}

func (TextPart) Kind() Kind { return KindText }
func (TextPart) sealed()    {}

// Annotation describes retrieval progress on the assistant message.
// Context optionally carries state-specific payload (e.g. source chunks for
// StateSourceNodes); consumers that only track progress ignore it.
type Annotation struct {
	State   State           `json:"state"`
	Display string          `json:"display,omitempty"`
	Context json.RawMessage `json:"context,omitempty"`
}

// AnnotationPart updates the assistant message's ongoing state.
type AnnotationPart struct {
	Annotation Annotation
}

func (AnnotationPart) Kind() Kind { return KindAnnotations }
func (AnnotationPart) sealed()    {}

// ErrorPart reports a terminal stream failure.
type ErrorPart struct {
	Message string
}

func (ErrorPart) Kind() Kind { return KindError }
func (ErrorPart) sealed()    {}

// UnknownPart preserves an unrecognized event for forward compatibility.
// Consumers log and skip it.
type UnknownPart struct {
	Event string
	Data  []byte
}

func (UnknownPart) Kind() Kind { return Kind("unknown") }
func (UnknownPart) sealed()    {}

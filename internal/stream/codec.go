package stream

import (
	"encoding/json"
	"fmt"
)

// Payload JSON shapes per kind:
//
//	data                → one-element array: [DataPayload]
//	text                → JSON string (the delta)
//	message_annotations → one-element array: [Annotation]
//	error               → JSON string (the message)
//
// The one-element arrays match the upstream protocol; decoders must accept
// trailing elements and use only the first.

// Encode serializes a part's payload for its SSE event.
// UnknownPart is not encodable; it exists only on the decode side.
func Encode(p Part) (event string, data []byte, err error) {
	switch v := p.(type) {
	case DataPart:
		data, err = json.Marshal([]DataPayload{v.Payload})
	case TextPart:
		data, err = json.Marshal(v.Delta)
	case AnnotationPart:
		data, err = json.Marshal([]Annotation{v.Annotation})
	case ErrorPart:
		data, err = json.Marshal(v.Message)
	default:
		return "", nil, fmt.Errorf("part kind %q is not encodable", p.Kind())
	}
	if err != nil {
		return "", nil, fmt.Errorf("encoding %s part: %w", p.Kind(), err)
	}
	return string(p.Kind()), data, nil
}

// Decode parses one SSE event into a Part. Events with an unrecognized name
// decode to UnknownPart rather than an error, so old clients survive new
// part kinds. A recognized event with a malformed payload is an error: the
// producer is violating the protocol.
func Decode(event string, data []byte) (Part, error) {
	switch Kind(event) {
	case KindData:
		var payloads []DataPayload
		if err := json.Unmarshal(data, &payloads); err != nil {
			return nil, fmt.Errorf("decoding data part: %w", err)
		}
		if len(payloads) == 0 {
			return nil, fmt.Errorf("decoding data part: empty payload array")
		}
		return DataPart{Payload: payloads[0]}, nil

	case KindText:
		var delta string
		if err := json.Unmarshal(data, &delta); err != nil {
			return nil, fmt.Errorf("decoding text part: %w", err)
		}
		return TextPart{Delta: delta}, nil

	case KindAnnotations:
		var annotations []Annotation
		if err := json.Unmarshal(data, &annotations); err != nil {
			return nil, fmt.Errorf("decoding message_annotations part: %w", err)
		}
		if len(annotations) == 0 {
			return nil, fmt.Errorf("decoding message_annotations part: empty payload array")
		}
		return AnnotationPart{Annotation: annotations[0]}, nil

	case KindError:
		var message string
		if err := json.Unmarshal(data, &message); err != nil {
			return nil, fmt.Errorf("decoding error part: %w", err)
		}
		return ErrorPart{Message: message}, nil

	default:
		return UnknownPart{Event: event, Data: data}, nil
	}
}

package chat

import "errors"

// Sentinel errors for chat operations. They are part of the Store's public
// API and should be checked with errors.Is().
//
// Example:
//
//	c, err := store.Get(ctx, id)
//	if errors.Is(err, chat.ErrChatNotFound) {
//	    // Handle missing chat
//	}
var (
	// ErrChatNotFound indicates the requested chat does not exist.
	ErrChatNotFound = errors.New("chat not found")

	// ErrMessageNotFound indicates the requested message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrInvalidRole indicates a message role outside user/assistant.
	ErrInvalidRole = errors.New("invalid message role")

	// ErrEmptyContent indicates an empty user message.
	ErrEmptyContent = errors.New("empty message content")
)

package client

import "errors"

// Sentinel errors for the chat session controller.
// These errors are part of the Controller's public API and should be checked
// using errors.Is().
//
// Example:
//
//	if err := ctrl.Post(ctx, params); errors.Is(err, client.ErrAlreadyPosting) {
//	    // A previous post is still streaming; ignore the duplicate submit.
//	}
var (
	// ErrAlreadyPosting indicates a post is already in flight on this
	// controller. The second call fails fast without touching the first
	// post's state; posts are never queued.
	ErrAlreadyPosting = errors.New("a post is already in flight")

	// ErrEmptyMessage indicates the post content is empty after trimming
	// whitespace. Returned before any transport activity.
	ErrEmptyMessage = errors.New("message content is empty")

	// ErrMalformedStream indicates the server broke the part protocol: a
	// text, message_annotations or error part arrived before any data part
	// established the assistant message. The stream is aborted rather than
	// repaired, since the contract breach cannot be recovered locally.
	ErrMalformedStream = errors.New("malformed stream")
)

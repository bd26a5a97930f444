// Package client implements the chat session controller: the client-side
// state machine that drives one chat against the tidegraph streaming API.
//
// # Overview
//
// A Controller owns one chat's message list and the lifecycle of the
// currently in-flight post. Post opens a Transport stream and dispatches each
// typed part in arrival order:
//
//	data                — merge chat, upsert user message; the first one per
//	                      post creates the assistant MessageController and
//	                      initializes the post, later ones are update-only
//	text                — append a delta to the assistant message
//	message_annotations — update the assistant's ongoing status
//	error               — mark the assistant message errored
//
// Text, annotation and error parts require the assistant controller to exist;
// a stream that breaks this contract is aborted with ErrMalformedStream.
// Unrecognized part kinds are logged and skipped.
//
// # Events
//
// UIs observe the controller through typed hubs rather than return values:
//
//	ctrl := client.New(client.NewSSETransport(serverURL, nil), logger)
//	ctrl.Events().MessageLoaded.Subscribe(func(mc *client.MessageController) { ... })
//	ctrl.Events().PostFinished.Subscribe(func(m chat.Message) { ... })
//	ctrl.Events().PostError.Subscribe(func(err error) { ... })
//
//	go func() {
//	    if err := ctrl.Post(ctx, client.PostParams{Content: "hello"}); err != nil {
//	        // usage errors (ErrAlreadyPosting, ErrEmptyMessage) or the
//	        // stream failure already surfaced via PostError
//	    }
//	}()
//
// Hubs fire synchronously on the posting goroutine, in the order the
// triggering parts arrived; PostInitialized always precedes PostFinished or
// PostError once a data part has been seen.
//
// # Failure model
//
// Usage errors fail fast before any network activity and leave all state
// untouched. Protocol violations and transport failures abort the stream,
// mark the active assistant message errored, are recorded as LastPostError
// and emitted through PostError. In every case the controller returns to a
// postable state, so the user can retry immediately.
package client

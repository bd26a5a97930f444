package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	"github.com/tidegraph/tidegraph/internal/stream"
)

// PostParams carries one user turn. Content is required. Origin optionally
// records where the conversation started and is stored on the chat when the
// server creates it.
type PostParams struct {
	Content string
	Origin  string
}

// Transport opens one streaming exchange against the chat backend and yields
// its parts strictly in arrival order. A nil chatID asks the server to create
// a new chat for this post. The sequence is finite: it ends at server EOF or
// yields a single non-nil error and stops. Cancellation and timeouts are the
// transport's concern, surfaced as yielded errors.
type Transport interface {
	Stream(ctx context.Context, chatID *uuid.UUID, params PostParams) iter.Seq2[stream.Part, error]
}

// postRequest is the JSON body of POST /api/v1/chats.
type postRequest struct {
	ChatID  *uuid.UUID `json:"chat_id,omitempty"`
	Content string     `json:"content"`
	Origin  string     `json:"origin,omitempty"`
}

// SSETransport streams chat parts from the tidegraph server over SSE.
type SSETransport struct {
	baseURL string
	client  *http.Client
}

// NewSSETransport creates a transport for the server at baseURL. A nil client
// falls back to a fresh http.Client without a timeout, since answer streams
// are long-lived; pass a client with its own transport-level timeouts to
// bound them.
func NewSSETransport(baseURL string, client *http.Client) *SSETransport {
	if client == nil {
		client = &http.Client{}
	}
	return &SSETransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Stream POSTs the turn and decodes the SSE response into stream parts.
func (t *SSETransport) Stream(ctx context.Context, chatID *uuid.UUID, params PostParams) iter.Seq2[stream.Part, error] {
	return func(yield func(stream.Part, error) bool) {
		body, err := json.Marshal(postRequest{
			ChatID:  chatID,
			Content: params.Content,
			Origin:  params.Origin,
		})
		if err != nil {
			yield(nil, fmt.Errorf("marshaling post request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			t.baseURL+"/api/v1/chats", bytes.NewReader(body))
		if err != nil {
			yield(nil, fmt.Errorf("creating post request: %w", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := t.client.Do(req)
		if err != nil {
			yield(nil, fmt.Errorf("opening chat stream: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			yield(nil, responseError(resp))
			return
		}

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				yield(nil, fmt.Errorf("reading chat stream: %w", err))
				return
			}
			part, err := stream.Decode(ev.Type, []byte(ev.Data))
			if err != nil {
				yield(nil, fmt.Errorf("decoding %q part: %w", ev.Type, err))
				return
			}
			if !yield(part, nil) {
				return
			}
		}
	}
}

// responseError turns a non-200 response into an error, preferring the
// server's structured message when the body carries one.
func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 32<<10))

	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return fmt.Errorf("chat request rejected (%s): %s", payload.Error.Code, payload.Error.Message)
	}
	return fmt.Errorf("chat request failed: %s", resp.Status)
}

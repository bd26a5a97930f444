package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/log"
	"github.com/tidegraph/tidegraph/internal/rag"
	"github.com/tidegraph/tidegraph/internal/stream"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Chat listing page sizes.
const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// AnswerStreamer produces the part stream for one posted message.
// *rag.Engine implements it.
type AnswerStreamer interface {
	Stream(ctx context.Context, req rag.Request) iter.Seq2[stream.Part, error]
}

// ChatStore is the persistence surface of the chat endpoints.
// *chat.Store implements it.
type ChatStore interface {
	List(ctx context.Context, limit, offset int32) ([]*chat.Chat, error)
	Get(ctx context.Context, id uuid.UUID) (*chat.Chat, error)
	Messages(ctx context.Context, chatID uuid.UUID) ([]*chat.Message, error)
	Rename(ctx context.Context, id uuid.UUID, title string) (*chat.Chat, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// chatHandler serves chat CRUD and the SSE answer stream.
type chatHandler struct {
	engine AnswerStreamer
	chats  ChatStore
	logger log.Logger
}

// postChatRequest is the JSON body of POST /api/v1/chats. A nil ChatID asks
// the server to create a chat for this first message.
type postChatRequest struct {
	ChatID  *uuid.UUID `json:"chat_id"`
	Content string     `json:"content"`
	Origin  string     `json:"origin"`
}

// post answers one user message as an SSE part stream. Failures before the
// first part map to JSON error responses, so clients can tell a rejected
// request from a stream that died midway.
func (h *chatHandler) post(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req postChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}

	ctx := r.Context()
	var sw *stream.Writer
	for part, err := range h.engine.Stream(ctx, rag.Request{
		ChatID:  req.ChatID,
		Content: req.Content,
		Origin:  req.Origin,
	}) {
		if err != nil {
			if sw == nil {
				h.rejectStream(w, err)
				return
			}
			// Mid-stream errors normally arrive as error parts; this is
			// the fallback for anything else.
			h.logger.Error("answer stream aborted", "error", err)
			_ = sw.WriteError(ctx, "answer stream interrupted")
			return
		}

		if sw == nil {
			var werr error
			sw, werr = stream.NewWriter(w)
			if werr != nil {
				h.logger.Error("opening SSE stream", "error", werr)
				writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming", h.logger)
				return
			}
		}

		if werr := sw.WritePart(ctx, part); werr != nil {
			// Write failure usually means the client disconnected. Stop
			// consuming; the engine persists what it has.
			h.logger.Debug("writing stream part", "error", werr)
			return
		}
	}
}

// rejectStream maps pre-stream engine errors to JSON error responses.
func (h *chatHandler) rejectStream(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyContent):
		writeError(w, http.StatusBadRequest, "empty_content", "message content must not be empty", h.logger)
	case errors.Is(err, chat.ErrChatNotFound):
		writeError(w, http.StatusNotFound, "chat_not_found", "chat not found", h.logger)
	default:
		h.logger.Error("starting answer stream", "error", err)
		writeError(w, http.StatusInternalServerError, "stream_failed", "failed to start answer stream", h.logger)
	}
}

// list returns chats ordered by most recent activity.
func (h *chatHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := listParams(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pagination", err.Error(), h.logger)
		return
	}

	chats, err := h.chats.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("listing chats", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list chats", h.logger)
		return
	}
	if chats == nil {
		chats = []*chat.Chat{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"chats":  chats,
		"limit":  limit,
		"offset": offset,
	}, h.logger)
}

// get returns one chat with its messages in ordinal order.
func (h *chatHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.chatID(w, r)
	if !ok {
		return
	}

	c, err := h.chats.Get(r.Context(), id)
	if errors.Is(err, chat.ErrChatNotFound) {
		writeError(w, http.StatusNotFound, "chat_not_found", "chat not found", h.logger)
		return
	}
	if err != nil {
		h.logger.Error("getting chat", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get chat", h.logger)
		return
	}

	msgs, err := h.chats.Messages(r.Context(), id)
	if err != nil {
		h.logger.Error("loading chat messages", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to load messages", h.logger)
		return
	}
	if msgs == nil {
		msgs = []*chat.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"chat":     c,
		"messages": msgs,
	}, h.logger)
}

// rename updates a chat's title.
func (h *chatHandler) rename(w http.ResponseWriter, r *http.Request) {
	id, ok := h.chatID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "invalid_title", "title must not be empty", h.logger)
		return
	}

	c, err := h.chats.Rename(r.Context(), id, req.Title)
	if errors.Is(err, chat.ErrChatNotFound) {
		writeError(w, http.StatusNotFound, "chat_not_found", "chat not found", h.logger)
		return
	}
	if err != nil {
		h.logger.Error("renaming chat", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "rename_failed", "failed to rename chat", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, c, h.logger)
}

// remove deletes a chat and its messages.
func (h *chatHandler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.chatID(w, r)
	if !ok {
		return
	}

	err := h.chats.Delete(r.Context(), id)
	if errors.Is(err, chat.ErrChatNotFound) {
		writeError(w, http.StatusNotFound, "chat_not_found", "chat not found", h.logger)
		return
	}
	if err != nil {
		h.logger.Error("deleting chat", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete chat", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, h.logger)
}

// chatID parses the {id} path value, writing the 400 response itself when
// the value is not a UUID.
func (h *chatHandler) chatID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid chat ID", h.logger)
		return uuid.Nil, false
	}
	return id, true
}

// listParams parses limit/offset query parameters with bounds.
func listParams(r *http.Request, def, maxLimit int32) (limit, offset int32, err error) {
	limit = def
	if v := r.URL.Query().Get("limit"); v != "" {
		n, perr := strconv.ParseInt(v, 10, 32)
		if perr != nil || n < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = int32(n)
		if limit > maxLimit {
			limit = maxLimit
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, perr := strconv.ParseInt(v, 10, 32)
		if perr != nil || n < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
		offset = int32(n)
	}
	return limit, offset, nil
}

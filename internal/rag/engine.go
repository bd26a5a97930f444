package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/knowledge"
	"github.com/tidegraph/tidegraph/internal/log"
	"github.com/tidegraph/tidegraph/internal/stream"
)

// ChatStore is the chat persistence surface the engine drives.
type ChatStore interface {
	Create(ctx context.Context, title, origin string) (*chat.Chat, error)
	Get(ctx context.Context, id uuid.UUID) (*chat.Chat, error)
	Messages(ctx context.Context, chatID uuid.UUID) ([]*chat.Message, error)
	AppendExchange(ctx context.Context, chatID uuid.UUID, userContent string) (*chat.Message, *chat.Message, error)
	FinishMessage(ctx context.Context, id uuid.UUID, content string) (*chat.Message, error)
}

// Searcher retrieves context chunks for a query embedding. Retrieval spans
// all knowledge bases; chats are not bound to a single one.
type Searcher interface {
	SearchAll(ctx context.Context, query []float32, topK int32) ([]knowledge.Hit, error)
}

// EngineConfig assembles an Engine. Genkit, Model, Embedder, Chats and
// Knowledge are required; TopK, MaxHistory and Logger fall back to defaults.
type EngineConfig struct {
	Genkit     *genkit.Genkit
	Model      string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
	Embedder   ai.Embedder
	Chats      ChatStore
	Knowledge  Searcher
	TopK       int32
	MaxHistory int32
	Logger     log.Logger
}

// Engine turns posted user messages into answer part streams.
type Engine struct {
	g          *genkit.Genkit
	model      string
	embedder   ai.Embedder
	chats      ChatStore
	kb         Searcher
	topK       int32
	maxHistory int32
	logger     log.Logger
}

const defaultMaxHistory = 100

// persistTimeout bounds the store writes that must survive a dead request
// context, like saving partial output after a failed generation.
const persistTimeout = 5 * time.Second

func NewEngine(cfg EngineConfig) (*Engine, error) {
	switch {
	case cfg.Genkit == nil:
		return nil, errors.New("rag: genkit instance is required")
	case cfg.Model == "":
		return nil, errors.New("rag: model name is required")
	case cfg.Embedder == nil:
		return nil, errors.New("rag: embedder is required")
	case cfg.Chats == nil:
		return nil, errors.New("rag: chat store is required")
	case cfg.Knowledge == nil:
		return nil, errors.New("rag: knowledge searcher is required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = knowledge.DefaultTopK
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &Engine{
		g:          cfg.Genkit,
		model:      cfg.Model,
		embedder:   cfg.Embedder,
		chats:      cfg.Chats,
		kb:         cfg.Knowledge,
		topK:       cfg.TopK,
		maxHistory: cfg.MaxHistory,
		logger:     cfg.Logger,
	}, nil
}

// Request is one user turn posted to a chat.
type Request struct {
	ChatID  *uuid.UUID // nil starts a new chat
	Content string
	Origin  string
}

// answerFailedMessage is what clients see when the pipeline fails mid-stream.
// The underlying error stays in the server log.
const answerFailedMessage = "Encountered an error while generating the answer. Please try again later."

// errConsumerGone signals that the part consumer stopped iterating; it aborts
// the model call from inside the streaming callback.
var errConsumerGone = errors.New("stream consumer gone")

// Stream runs the answer pipeline for one posted message and yields its
// parts in order. Errors before the first part (empty content, unknown chat,
// failed persistence of the exchange) are yielded through the error value and
// produce no parts; later failures arrive as an error part instead, after
// accumulated text has been persisted.
//
// The returned sequence is single-use and must be consumed on one goroutine.
func (e *Engine) Stream(ctx context.Context, req Request) iter.Seq2[stream.Part, error] {
	return func(yield func(stream.Part, error) bool) {
		content := strings.TrimSpace(req.Content)
		if content == "" {
			yield(nil, chat.ErrEmptyContent)
			return
		}

		c, history, err := e.loadOrCreateChat(ctx, req.ChatID, content, req.Origin)
		if err != nil {
			yield(nil, err)
			return
		}

		userMsg, assistantMsg, err := e.chats.AppendExchange(ctx, c.ID, content)
		if err != nil {
			yield(nil, fmt.Errorf("appending exchange: %w", err))
			return
		}

		e.logger.Info("answer stream started",
			"chat_id", c.ID, "message_id", assistantMsg.ID, "new_chat", req.ChatID == nil)

		if !yield(dataPart(c, userMsg, assistantMsg), nil) {
			return
		}

		// From here on the protocol owns error reporting: persist whatever
		// accumulated, then emit a terminal error part.
		var acc strings.Builder
		fail := func(cause error) {
			e.logger.Error("answer stream failed",
				"chat_id", c.ID, "message_id", assistantMsg.ID, "error", cause)
			e.persistPartial(assistantMsg.ID, acc.String())
			yield(stream.ErrorPart{Message: answerFailedMessage}, nil)
		}

		question := content
		if len(history) > 0 {
			if !yieldState(yield, stream.StateRefineQuestion) {
				return
			}
			refined, err := e.refineQuestion(ctx, history, content)
			if err != nil {
				fail(fmt.Errorf("refining question: %w", err))
				return
			}
			if refined != "" {
				question = refined
			}
		}

		if !yieldState(yield, stream.StateSearchRelatedDocuments) {
			return
		}

		hits, err := e.retrieve(ctx, question)
		if err != nil {
			fail(fmt.Errorf("retrieving context: %w", err))
			return
		}

		sources := collectSources(hits)
		sourceCtx, err := json.Marshal(sources)
		if err != nil {
			fail(fmt.Errorf("encoding sources: %w", err))
			return
		}
		if !yield(stream.AnnotationPart{Annotation: stream.Annotation{
			State:   stream.StateSourceNodes,
			Display: sourcesDisplay(len(sources)),
			Context: sourceCtx,
		}}, nil) {
			return
		}

		if !yieldState(yield, stream.StateGenerateAnswer) {
			return
		}

		consumerGone := false
		resp, err := genkit.Generate(ctx, e.g,
			ai.WithModelName(e.model),
			ai.WithSystem(answerSystemPrompt),
			ai.WithPrompt(answerPromptFormat,
				time.Now().Format("2006-01-02"), contextSections(hits), content, question),
			ai.WithStreaming(func(_ context.Context, chunk *ai.ModelResponseChunk) error {
				delta := chunk.Text()
				if delta == "" {
					return nil
				}
				acc.WriteString(delta)
				if !yield(stream.TextPart{Delta: delta}, nil) {
					consumerGone = true
					return errConsumerGone
				}
				return nil
			}),
		)
		if consumerGone {
			e.persistPartial(assistantMsg.ID, acc.String())
			return
		}
		if err != nil {
			fail(fmt.Errorf("generating answer: %w", err))
			return
		}

		final := resp.Text()
		if final == "" {
			final = acc.String()
		}

		finished, err := e.chats.FinishMessage(ctx, assistantMsg.ID, final)
		if err != nil {
			fail(fmt.Errorf("persisting answer: %w", err))
			return
		}

		if !yieldState(yield, stream.StateFinished) {
			return
		}

		// Re-read the chat so the closing snapshot carries fresh timestamps.
		// Stale is acceptable; the answer is already persisted.
		updated, err := e.chats.Get(ctx, c.ID)
		if err != nil {
			e.logger.Warn("refreshing chat after answer", "chat_id", c.ID, "error", err)
			updated = c
		}

		yield(dataPart(updated, userMsg, finished), nil)

		e.logger.Info("answer stream finished",
			"chat_id", c.ID, "message_id", finished.ID,
			"sources", len(sources), "answer_len", len(final))
	}
}

// loadOrCreateChat resolves the target chat. Existing chats also return their
// message history, captured before the new exchange is appended.
func (e *Engine) loadOrCreateChat(ctx context.Context, chatID *uuid.UUID, content, origin string) (*chat.Chat, []*chat.Message, error) {
	if chatID == nil {
		c, err := e.chats.Create(ctx, chat.TitleFromContent(content), origin)
		if err != nil {
			return nil, nil, fmt.Errorf("creating chat: %w", err)
		}
		return c, nil, nil
	}

	c, err := e.chats.Get(ctx, *chatID)
	if err != nil {
		return nil, nil, err
	}
	history, err := e.chats.Messages(ctx, c.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading history: %w", err)
	}
	return c, history, nil
}

// refineQuestion condenses a follow-up message into a standalone question
// with one non-streaming model call.
func (e *Engine) refineQuestion(ctx context.Context, history []*chat.Message, content string) (string, error) {
	resp, err := genkit.Generate(ctx, e.g,
		ai.WithModelName(e.model),
		ai.WithSystem(condenseSystemPrompt),
		ai.WithPrompt(condensePromptFormat, historyTranscript(history, e.maxHistory), content),
	)
	if err != nil {
		return "", err
	}

	refined := strings.TrimSpace(resp.Text())
	refined = strings.Trim(refined, `"`)
	return strings.TrimSpace(refined), nil
}

func (e *Engine) retrieve(ctx context.Context, question string) ([]knowledge.Hit, error) {
	vec, err := knowledge.EmbedQuery(ctx, e.embedder, question)
	if err != nil {
		return nil, err
	}
	return e.kb.SearchAll(ctx, vec, e.topK)
}

// persistPartial finishes the assistant message with whatever content exists
// so a failed or abandoned stream still leaves a consistent exchange. Runs on
// its own context: the request context is typically dead by now.
func (e *Engine) persistPartial(id uuid.UUID, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if _, err := e.chats.FinishMessage(ctx, id, content); err != nil {
		e.logger.Error("persisting partial answer", "message_id", id, "error", err)
	}
}

func dataPart(c *chat.Chat, user, assistant *chat.Message) stream.DataPart {
	return stream.DataPart{Payload: stream.DataPayload{
		Chat:             *c,
		UserMessage:      *user,
		AssistantMessage: *assistant,
	}}
}

// yieldState emits a bare annotation; the client derives display text from
// the state.
func yieldState(yield func(stream.Part, error) bool, s stream.State) bool {
	return yield(stream.AnnotationPart{Annotation: stream.Annotation{State: s}}, nil)
}

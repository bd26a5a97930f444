package rag

import (
	"fmt"
	"strings"

	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/knowledge"
)

// condenseSystemPrompt instructs the model to rewrite a follow-up message
// into a standalone question optimized for vector retrieval.
const condenseSystemPrompt = `Given the conversation between the Human and Assistant, along with the follow-up message from the Human, refine the follow-up message into a standalone, detailed question.

Instructions:
1. Focus on the latest message from the Human, ensuring it is given the most weight.
2. Incorporate relevant context from the conversation history to make the question specific.
3. Replace ambiguous terms or references with precise information from the conversation.
4. Emphasize specific and relevant terms to maximize the effectiveness of a vector search.
5. Do not introduce information that is not supported by the conversation history.
6. Reply with the refined question only, in the same language as the original question, with no explanations.`

const condensePromptFormat = `Chat history:

%s

---------------------

Follow-up question:

%s

---------------------

Refined standalone question:`

// answerSystemPrompt sets the grounding rules for answer generation. The
// retrieved context travels in the user prompt, not here.
const answerSystemPrompt = `You are a knowledge-base assistant. Answer using only the provided context information, without assuming prior knowledge. If the context does not contain the answer, state directly that you do not know rather than constructing a potentially wrong one.

Answer in markdown, in the same language as the original question. Cite the sources you used with markdown footnote syntax (for example: [^1]); each footnote must correspond to a unique source.`

const answerPromptFormat = `Current Date: %s
---------------------
Context information is below.
---------------------

%s

---------------------

The original question is:

%s

The question used for retrieval:

%s

Answer:`

// noContextPlaceholder stands in for the context block when retrieval found
// nothing, so the model declines instead of guessing.
const noContextPlaceholder = "No relevant context was found in the knowledge bases."

// historyTranscript renders the most recent limit messages as the
// Human/Assistant transcript the condense prompt expects. Messages with
// empty content (failed earlier turns) are skipped.
func historyTranscript(history []*chat.Message, limit int32) string {
	if limit > 0 && int32(len(history)) > limit {
		history = history[int32(len(history))-limit:]
	}

	var sb strings.Builder
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		speaker := "Human"
		if m.Role == chat.RoleAssistant {
			speaker = "Assistant"
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%s: %s", speaker, m.Content)
	}
	return sb.String()
}

// contextSections renders retrieval hits as numbered context blocks. The
// numbering matches the footnote indexes the answer prompt asks for.
func contextSections(hits []knowledge.Hit) string {
	if len(hits) == 0 {
		return noContextPlaceholder
	}

	var sb strings.Builder
	for i, h := range hits {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Source [%d]: %s", i+1, h.DocumentName)
		if h.SourceURI != "" {
			fmt.Fprintf(&sb, " (%s)", h.SourceURI)
		}
		sb.WriteString("\n")
		sb.WriteString(h.Chunk.Text)
	}
	return sb.String()
}

// Source identifies one document backing the answer, carried in the
// SOURCE_NODES annotation context.
type Source struct {
	DocumentID int64   `json:"document_id"`
	Name       string  `json:"name"`
	SourceURI  string  `json:"source_uri,omitempty"`
	Similarity float32 `json:"similarity"`
}

// collectSources dedupes hits by document, keeping the first (closest) hit
// per document. Hits arrive ordered by similarity, so the kept score is the
// document's best.
func collectSources(hits []knowledge.Hit) []Source {
	seen := make(map[int64]bool, len(hits))
	sources := make([]Source, 0, len(hits))
	for _, h := range hits {
		if seen[h.Chunk.DocumentID] {
			continue
		}
		seen[h.Chunk.DocumentID] = true
		sources = append(sources, Source{
			DocumentID: h.Chunk.DocumentID,
			Name:       h.DocumentName,
			SourceURI:  h.SourceURI,
			Similarity: h.Similarity,
		})
	}
	return sources
}

func sourcesDisplay(n int) string {
	if n == 1 {
		return "1 source"
	}
	return fmt.Sprintf("%d sources", n)
}

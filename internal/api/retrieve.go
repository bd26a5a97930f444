package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/tidegraph/tidegraph/internal/knowledge"
	"github.com/tidegraph/tidegraph/internal/log"
)

// maxRetrieveTopK bounds how many hits one retrieve call may request.
const maxRetrieveTopK = 50

// Retriever runs vector search over indexed chunks. *knowledge.Store
// implements it.
type Retriever interface {
	Search(ctx context.Context, kbID int64, query []float32, topK int32) ([]knowledge.Hit, error)
	SearchAll(ctx context.Context, query []float32, topK int32) ([]knowledge.Hit, error)
}

// retrieveHandler serves POST /api/v1/retrieve, the debug endpoint that
// exposes raw retrieval without answer generation.
type retrieveHandler struct {
	embedder ai.Embedder
	search   Retriever
	topK     int32
	logger   log.Logger
}

// retrieveRequest is the JSON body of POST /api/v1/retrieve. A zero
// KnowledgeBaseID searches across all knowledge bases.
type retrieveRequest struct {
	Query           string `json:"query"`
	KnowledgeBaseID int64  `json:"knowledge_base_id"`
	TopK            int32  `json:"top_k"`
}

func (h *retrieveHandler) retrieve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "empty_query", "query must not be empty", h.logger)
		return
	}

	topK := req.TopK
	if topK <= 0 {
		topK = h.topK
	}
	if topK > maxRetrieveTopK {
		topK = maxRetrieveTopK
	}

	vec, err := knowledge.EmbedQuery(r.Context(), h.embedder, req.Query)
	if err != nil {
		h.logger.Error("embedding retrieve query", "error", err)
		writeError(w, http.StatusInternalServerError, "embed_failed", "failed to embed query", h.logger)
		return
	}

	var hits []knowledge.Hit
	if req.KnowledgeBaseID > 0 {
		hits, err = h.search.Search(r.Context(), req.KnowledgeBaseID, vec, topK)
	} else {
		hits, err = h.search.SearchAll(r.Context(), vec, topK)
	}
	if err != nil {
		h.logger.Error("searching chunks", "kb_id", req.KnowledgeBaseID, "error", err)
		writeError(w, http.StatusInternalServerError, "search_failed", "failed to search", h.logger)
		return
	}
	if hits == nil {
		hits = []knowledge.Hit{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"hits": hits}, h.logger)
}

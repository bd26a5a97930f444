package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidegraph/tidegraph/internal/ingest"
	"github.com/tidegraph/tidegraph/internal/knowledge"
	"github.com/tidegraph/tidegraph/internal/log"
)

// KnowledgeStore is the persistence surface of the knowledge base and
// document endpoints. *knowledge.Store implements it.
type KnowledgeStore interface {
	CreateKnowledgeBase(ctx context.Context, params knowledge.CreateKnowledgeBaseParams) (*knowledge.KnowledgeBase, error)
	ListKnowledgeBases(ctx context.Context) ([]*knowledge.Overview, error)
	Overview(ctx context.Context, id int64) (*knowledge.Overview, error)
	DeleteKnowledgeBase(ctx context.Context, id int64) error
	ListDocuments(ctx context.Context, kbID int64, status knowledge.IndexStatus) ([]*knowledge.Document, error)
	GetDocument(ctx context.Context, id int64) (*knowledge.Document, error)
}

// TaskQueue enqueues ingestion work. *ingest.Queue implements it.
type TaskQueue interface {
	PublishImport(ctx context.Context, task ingest.ImportTask) error
	PublishIndex(ctx context.Context, task ingest.IndexTask) error
	PublishPurge(ctx context.Context, task ingest.PurgeTask) error
}

// knowledgeHandler serves knowledge base and document endpoints.
type knowledgeHandler struct {
	store  KnowledgeStore
	queue  TaskQueue
	logger log.Logger
}

// createKBRequest is the JSON body of POST /api/v1/knowledge-bases.
// Chunking fields are optional; zero values select the store defaults.
type createKBRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ChunkSize    int32  `json:"chunk_size"`
	ChunkOverlap int32  `json:"chunk_overlap"`
}

func (h *knowledgeHandler) create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req createKBRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "invalid_name", "name must not be empty", h.logger)
		return
	}

	kb, err := h.store.CreateKnowledgeBase(r.Context(), knowledge.CreateKnowledgeBaseParams{
		Name:         req.Name,
		Description:  req.Description,
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
	})
	if errors.Is(err, knowledge.ErrInvalidChunking) {
		writeError(w, http.StatusBadRequest, "invalid_chunking", err.Error(), h.logger)
		return
	}
	if err != nil {
		h.logger.Error("creating knowledge base", "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "failed to create knowledge base", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, kb, h.logger)
}

func (h *knowledgeHandler) list(w http.ResponseWriter, r *http.Request) {
	overviews, err := h.store.ListKnowledgeBases(r.Context())
	if err != nil {
		h.logger.Error("listing knowledge bases", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list knowledge bases", h.logger)
		return
	}
	if overviews == nil {
		overviews = []*knowledge.Overview{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"knowledge_bases": overviews}, h.logger)
}

func (h *knowledgeHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id", h.logger)
	if !ok {
		return
	}

	overview, err := h.store.Overview(r.Context(), id)
	if errors.Is(err, knowledge.ErrKnowledgeBaseNotFound) {
		writeError(w, http.StatusNotFound, "knowledge_base_not_found", "knowledge base not found", h.logger)
		return
	}
	if err != nil {
		h.logger.Error("getting knowledge base overview", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get knowledge base", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, overview, h.logger)
}

func (h *knowledgeHandler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id", h.logger)
	if !ok {
		return
	}

	err := h.store.DeleteKnowledgeBase(r.Context(), id)
	if errors.Is(err, knowledge.ErrKnowledgeBaseNotFound) {
		writeError(w, http.StatusNotFound, "knowledge_base_not_found", "knowledge base not found", h.logger)
		return
	}
	if err != nil {
		h.logger.Error("deleting knowledge base", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete knowledge base", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, h.logger)
}

// listDocuments lists a knowledge base's documents, optionally filtered by
// ?status=. The knowledge base must exist, so an empty listing and an
// unknown ID stay distinguishable.
func (h *knowledgeHandler) listDocuments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id", h.logger)
	if !ok {
		return
	}

	status := knowledge.IndexStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_status", "unknown index status", h.logger)
		return
	}

	if _, err := h.store.Overview(r.Context(), id); err != nil {
		if errors.Is(err, knowledge.ErrKnowledgeBaseNotFound) {
			writeError(w, http.StatusNotFound, "knowledge_base_not_found", "knowledge base not found", h.logger)
			return
		}
		h.logger.Error("checking knowledge base", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list documents", h.logger)
		return
	}

	docs, err := h.store.ListDocuments(r.Context(), id, status)
	if err != nil {
		h.logger.Error("listing documents", "kb_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list documents", h.logger)
		return
	}
	if docs == nil {
		docs = []*knowledge.Document{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"documents": docs}, h.logger)
}

// reindex queues one document for re-chunking and re-embedding.
func (h *knowledgeHandler) reindex(w http.ResponseWriter, r *http.Request) {
	kbID, ok := pathInt64(w, r, "id", h.logger)
	if !ok {
		return
	}
	docID, ok := pathInt64(w, r, "docID", h.logger)
	if !ok {
		return
	}

	doc, err := h.store.GetDocument(r.Context(), docID)
	if errors.Is(err, knowledge.ErrDocumentNotFound) {
		writeError(w, http.StatusNotFound, "document_not_found", "document not found", h.logger)
		return
	}
	if err != nil {
		h.logger.Error("getting document", "id", docID, "error", err)
		writeError(w, http.StatusInternalServerError, "reindex_failed", "failed to queue reindex", h.logger)
		return
	}
	if doc.KBID != kbID {
		writeError(w, http.StatusNotFound, "document_not_found", "document not found", h.logger)
		return
	}

	if err := h.queue.PublishIndex(r.Context(), ingest.IndexTask{DocumentID: docID}); err != nil {
		h.logger.Error("queueing reindex", "document_id", docID, "error", err)
		writeError(w, http.StatusInternalServerError, "reindex_failed", "failed to queue reindex", h.logger)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"}, h.logger)
}

// pathInt64 parses a numeric path value, writing the 400 response itself
// when the value is not a positive integer.
func pathInt64(w http.ResponseWriter, r *http.Request, name string, logger log.Logger) (int64, bool) {
	n, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid "+name+" path value", logger)
		return 0, false
	}
	return n, true
}

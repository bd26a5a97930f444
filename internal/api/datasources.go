package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tidegraph/tidegraph/internal/datasource"
	"github.com/tidegraph/tidegraph/internal/ingest"
	"github.com/tidegraph/tidegraph/internal/knowledge"
	"github.com/tidegraph/tidegraph/internal/log"
)

// DataSourceStore is the persistence surface of the data source endpoints.
// *datasource.Store implements it.
type DataSourceStore interface {
	Create(ctx context.Context, params datasource.CreateParams) (*datasource.DataSource, error)
	Get(ctx context.Context, id int64) (*datasource.DataSource, error)
	List(ctx context.Context, kbID int64) ([]*datasource.DataSource, error)
	SoftDelete(ctx context.Context, id int64) error
}

// dataSourceHandler serves the data source endpoints.
type dataSourceHandler struct {
	store  DataSourceStore
	queue  TaskQueue
	logger log.Logger
}

// createDataSourceRequest is the JSON body of
// POST /api/v1/knowledge-bases/{id}/data-sources.
type createDataSourceRequest struct {
	Name   string          `json:"name"`
	Kind   datasource.Kind `json:"kind"`
	Config json.RawMessage `json:"config"`
}

// create registers a data source and queues its first import.
func (h *dataSourceHandler) create(w http.ResponseWriter, r *http.Request) {
	kbID, ok := pathInt64(w, r, "id", h.logger)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req createDataSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}

	ds, err := h.store.Create(r.Context(), datasource.CreateParams{
		KBID:   kbID,
		Name:   req.Name,
		Kind:   req.Kind,
		Config: req.Config,
	})
	switch {
	case errors.Is(err, datasource.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, "invalid_config", err.Error(), h.logger)
		return
	case errors.Is(err, knowledge.ErrKnowledgeBaseNotFound):
		writeError(w, http.StatusNotFound, "knowledge_base_not_found", "knowledge base not found", h.logger)
		return
	case err != nil:
		h.logger.Error("creating data source", "kb_id", kbID, "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "failed to create data source", h.logger)
		return
	}

	if err := h.queue.PublishImport(r.Context(), ingest.ImportTask{DataSourceID: ds.ID}); err != nil {
		// The data source exists but its import never queued; surface the
		// failure so the caller retries instead of waiting forever.
		h.logger.Error("queueing import", "data_source_id", ds.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "import_not_queued", "data source created but import could not be queued", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, ds, h.logger)
}

// list returns a knowledge base's live data sources.
func (h *dataSourceHandler) list(w http.ResponseWriter, r *http.Request) {
	kbID, ok := pathInt64(w, r, "id", h.logger)
	if !ok {
		return
	}

	sources, err := h.store.List(r.Context(), kbID)
	if err != nil {
		h.logger.Error("listing data sources", "kb_id", kbID, "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list data sources", h.logger)
		return
	}
	if sources == nil {
		sources = []*datasource.DataSource{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"data_sources": sources}, h.logger)
}

// remove soft-deletes a data source and queues the purge of its documents.
func (h *dataSourceHandler) remove(w http.ResponseWriter, r *http.Request) {
	kbID, ok := pathInt64(w, r, "id", h.logger)
	if !ok {
		return
	}
	sid, ok := pathInt64(w, r, "sid", h.logger)
	if !ok {
		return
	}

	ds, err := h.store.Get(r.Context(), sid)
	if errors.Is(err, datasource.ErrDataSourceNotFound) {
		writeError(w, http.StatusNotFound, "data_source_not_found", "data source not found", h.logger)
		return
	}
	if err != nil {
		h.logger.Error("getting data source", "id", sid, "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete data source", h.logger)
		return
	}
	if ds.KBID != kbID {
		writeError(w, http.StatusNotFound, "data_source_not_found", "data source not found", h.logger)
		return
	}

	if err := h.store.SoftDelete(r.Context(), sid); err != nil {
		if errors.Is(err, datasource.ErrDataSourceNotFound) {
			writeError(w, http.StatusNotFound, "data_source_not_found", "data source not found", h.logger)
			return
		}
		h.logger.Error("deleting data source", "id", sid, "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete data source", h.logger)
		return
	}

	if err := h.queue.PublishPurge(r.Context(), ingest.PurgeTask{DataSourceID: sid}); err != nil {
		// The source is already gone from listings; without the purge its
		// documents linger and keep surfacing in retrieval.
		h.logger.Error("queueing purge", "data_source_id", sid, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, h.logger)
}

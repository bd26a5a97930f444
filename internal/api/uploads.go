package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/tidegraph/tidegraph/internal/datasource"
	"github.com/tidegraph/tidegraph/internal/log"
)

// UploadStore stages files for file data sources. *datasource.Uploads
// implements it.
type UploadStore interface {
	Save(ctx context.Context, name, mimeType string, r io.Reader) (*datasource.Upload, error)
}

// uploadHandler serves POST /api/v1/uploads.
type uploadHandler struct {
	uploads  UploadStore
	maxBytes int64
	logger   log.Logger
}

// create stages one multipart file under the form field "file". The staged
// upload is referenced by ID when creating a file data source.
func (h *uploadHandler) create(w http.ResponseWriter, r *http.Request) {
	// Multipart framing adds overhead beyond the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+(1<<20))

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", `multipart field "file" is required`, h.logger)
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(header.Filename)); byExt != "" {
			mimeType = byExt
		}
	}

	up, err := h.uploads.Save(r.Context(), header.Filename, mimeType, file)
	switch {
	case errors.Is(err, datasource.ErrUnsupportedMimeType):
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_type", err.Error(), h.logger)
		return
	case errors.Is(err, datasource.ErrUploadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "upload_too_large", err.Error(), h.logger)
		return
	case err != nil:
		h.logger.Error("staging upload", "name", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "upload_failed", "failed to stage upload", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, up, h.logger)
}

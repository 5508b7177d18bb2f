package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/cloo-solutions/lightrag/internal/api"
	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

type DocumentService interface {
	List(ctx context.Context) ([]*domain.Document, error)
	Open(ctx context.Context, id string) (*domain.Document, io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) (int, error)
}

// ProgressStore holds the latest ingestion progress per document.
type ProgressStore interface {
	Get(documentID string) (domain.ProgressEvent, bool)
	Forget(documentID string)
	Reset()
}

type DocumentHandler struct {
	svc      DocumentService
	progress ProgressStore
}

func NewDocumentHandler(svc DocumentService, progress ProgressStore) *DocumentHandler {
	return &DocumentHandler{svc: svc, progress: progress}
}

type DocumentResponse struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Pages    int    `json:"pages"`
}

// List returns the documents as [{filename,size,pages}], or as a flat list
// of filenames with ?format=legacy.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.List(r.Context())
	if err != nil {
		ctxzap.Error(r.Context(), "failed to list documents", zap.Error(err))
		api.HandleError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "legacy" {
		names := make([]string, len(docs))
		for i, d := range docs {
			names[i] = d.Filename
		}
		api.JSON(w, http.StatusOK, names)
		return
	}

	resp := make([]DocumentResponse, len(docs))
	for i, d := range docs {
		resp[i] = DocumentResponse{Filename: d.Filename, Size: d.Size, Pages: d.Pages}
	}
	api.JSON(w, http.StatusOK, resp)
}

// Serve streams a document's source file.
func (h *DocumentHandler) Serve(w http.ResponseWriter, r *http.Request) {
	id := documentID(r)
	if id == "" {
		api.HandleError(w, domain.ErrDocumentNotFound)
		return
	}

	doc, rc, err := h.svc.Open(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	defer rc.Close()

	contentType := doc.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.Filename))
	if doc.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(doc.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		ctxzap.Warn(r.Context(), "failed to send document", zap.String("filename", id), zap.Error(err))
	}
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := documentID(r)
	if id == "" {
		api.HandleError(w, domain.ErrDocumentNotFound)
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}
	h.progress.Forget(id)

	api.Success(w, http.StatusOK, fmt.Sprintf("File \"%s\" deleted successfully.", id))
}

func (h *DocumentHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	_, err := h.svc.DeleteAll(r.Context())
	h.progress.Reset()
	if err != nil {
		ctxzap.Error(r.Context(), "failed to delete all documents", zap.Error(err))
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, "All documents deleted successfully.")
}

// Progress returns the latest ingestion event of a document.
func (h *DocumentHandler) Progress(w http.ResponseWriter, r *http.Request) {
	event, ok := h.progress.Get(documentID(r))
	if !ok {
		api.Error(w, http.StatusNotFound, "No progress recorded for this file.")
		return
	}
	api.JSON(w, http.StatusOK, event)
}

// documentID maps the {filename} route parameter to a document id.
func documentID(r *http.Request) string {
	return domain.SanitizeFilename(chi.URLParam(r, "filename"))
}

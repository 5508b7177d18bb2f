package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/cloo-solutions/lightrag/internal/api"
	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/cloo-solutions/lightrag/internal/service"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

const multipartMemory = 32 << 20

type Ingestor interface {
	Ingest(ctx context.Context, up service.Upload) (*domain.Document, error)
	IngestAsync(ctx context.Context, up service.Upload) (*domain.Document, error)
}

type UploadHandler struct {
	ingestor Ingestor
	now      func() time.Time
}

func NewUploadHandler(ingestor Ingestor) *UploadHandler {
	return &UploadHandler{ingestor: ingestor, now: time.Now}
}

type UploadResponse struct {
	Success      string  `json:"success"`
	IndexingTime float64 `json:"indexing_time"`
}

// Upload receives a multipart "file" and indexes it before responding.
// With ?async=true the file is admitted and indexed in the background;
// progress is then available from /progress/{filename}.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	up, err := readUpload(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	if r.URL.Query().Get("async") == "true" {
		doc, err := h.ingestor.IngestAsync(r.Context(), up)
		if err != nil {
			api.HandleError(w, err)
			return
		}
		api.Success(w, http.StatusAccepted, fmt.Sprintf("File \"%s\" accepted for indexing.", doc.Filename))
		return
	}

	start := h.now()
	doc, err := h.ingestor.Ingest(r.Context(), up)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			ctxzap.Info(r.Context(), "client went away during upload", zap.String("filename", up.Filename))
			return
		}
		api.HandleError(w, err)
		return
	}

	elapsed := h.now().Sub(start).Seconds()
	api.JSON(w, http.StatusOK, UploadResponse{
		Success:      fmt.Sprintf("File \"%s\" uploaded in %.1fs.", doc.Filename, elapsed),
		IndexingTime: math.Round(elapsed*1000) / 1000,
	})
}

func readUpload(r *http.Request) (service.Upload, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return service.Upload{}, domain.ErrFileTooLarge.Wrap(err)
		}
		return service.Upload{}, domain.ErrNoFilePart.Wrap(err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		// A file part sent without a filename is parsed as a plain value.
		if _, ok := r.MultipartForm.Value["file"]; ok {
			return service.Upload{}, domain.ErrNoSelectedFile
		}
		return service.Upload{}, domain.ErrNoFilePart.Wrap(err)
	}
	defer file.Close()

	if header.Filename == "" {
		return service.Upload{}, domain.ErrNoSelectedFile
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return service.Upload{}, domain.ErrUnreadableFile.Wrap(err)
	}
	return service.Upload{Filename: header.Filename, Data: data}, nil
}

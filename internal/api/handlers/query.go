package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/cloo-solutions/lightrag/internal/api"
	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/cloo-solutions/lightrag/internal/service"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// StreamFailureMessage is appended to an answer whose generation broke off.
const StreamFailureMessage = "An error occurred while generating the response."

type QueryService interface {
	Query(ctx context.Context, in service.QueryInput) (service.TokenStream, error)
}

type QueryHandler struct {
	svc QueryService
}

func NewQueryHandler(svc QueryService) *QueryHandler {
	return &QueryHandler{svc: svc}
}

type QueryRequest struct {
	Query    string `json:"query" validate:"required"`
	Filename string `json:"filename"`
}

// Query answers a question as a chunked text/plain stream. Errors found
// before the first token are returned as JSON; later ones end the stream
// with StreamFailureMessage. A client disconnect cancels generation.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeRequest(r, &req, "Query text is required"); err != nil {
		api.HandleError(w, err)
		return
	}

	in := service.QueryInput{Text: req.Query}
	if req.Filename != "" {
		in.DocumentID = domain.SanitizeFilename(req.Filename)
		if in.DocumentID == "" {
			api.HandleError(w, domain.ErrDocumentNotFound)
			return
		}
	}

	ctx := r.Context()
	stream, err := h.svc.Query(ctx, in)
	if err != nil {
		ctxzap.Warn(ctx, "query rejected", zap.Error(err))
		api.HandleError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	for {
		tok, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				ctxzap.Info(ctx, "client disconnected during generation")
				return
			}
			ctxzap.Error(ctx, "generation failed mid-stream", zap.Error(err))
			io.WriteString(w, StreamFailureMessage)
			rc.Flush()
			return
		}
		if tok == "" {
			continue
		}
		if _, err := io.WriteString(w, tok); err != nil {
			ctxzap.Info(ctx, "stopped streaming answer", zap.Error(err))
			return
		}
		rc.Flush()
	}
}

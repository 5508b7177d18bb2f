package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/lightrag/internal/api"
	"github.com/cloo-solutions/lightrag/internal/health"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

type HealthReporter interface {
	Snapshot(ctx context.Context) (health.Snapshot, error)
}

type HealthHandler struct {
	reporter HealthReporter
}

func NewHealthHandler(reporter HealthReporter) *HealthHandler {
	return &HealthHandler{reporter: reporter}
}

// Liveness answers {"status": "ok"} while the process serves requests.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// System reports memory, disk and CPU headroom.
func (h *HealthHandler) System(w http.ResponseWriter, r *http.Request) {
	snap, err := h.reporter.Snapshot(r.Context())
	if err != nil {
		ctxzap.Error(r.Context(), "failed to sample system resources", zap.Error(err))
		api.Error(w, http.StatusInternalServerError, "Failed to read system resources.")
		return
	}
	api.JSON(w, http.StatusOK, snap)
}

package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"go.uber.org/zap"
)

// DocumentLister lists stored documents.
type DocumentLister interface {
	List(ctx context.Context) ([]*domain.Document, error)
}

// IngestionResumer restarts ingestion of a document whose run was lost.
type IngestionResumer interface {
	IsActive(documentID string) bool
	Resume(ctx context.Context, doc *domain.Document) error
}

// RecoveryWorker finds documents stuck in a working stage with no live run,
// for example after a restart, and resumes their ingestion from the stored
// source file.
type RecoveryWorker struct {
	docs       DocumentLister
	resumer    IngestionResumer
	staleAfter time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewRecoveryWorker creates a new RecoveryWorker instance
func NewRecoveryWorker(docs DocumentLister, resumer IngestionResumer, staleAfter time.Duration, logger *zap.Logger) *RecoveryWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecoveryWorker{
		docs:       docs,
		resumer:    resumer,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *RecoveryWorker) ProcessJobs(ctx context.Context) error {
	docs, err := w.docs.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	cutoff := w.now().Add(-w.staleAfter)
	for _, doc := range docs {
		if doc.Status.Terminal() || w.resumer.IsActive(doc.ID) || doc.UpdatedAt.After(cutoff) {
			continue
		}

		w.logger.Warn("resuming interrupted ingestion",
			zap.String("filename", doc.ID),
			zap.String("status", string(doc.Status)),
		)
		if err := w.resumer.Resume(ctx, doc); err != nil {
			w.logger.Error("failed to resume ingestion", zap.String("filename", doc.ID), zap.Error(err))
		}
	}

	return nil
}

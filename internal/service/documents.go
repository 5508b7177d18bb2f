package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/cloo-solutions/lightrag/internal/telemetry"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// DocumentRepository stores documents and their ingestion state.
type DocumentRepository interface {
	// Register stores a new document. It fails with ErrDuplicateDocument when
	// the id, or the content hash of a document that has not failed, exists.
	Register(ctx context.Context, doc *domain.Document) error
	Get(ctx context.Context, id string) (*domain.Document, error)
	List(ctx context.Context) ([]*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, reason string) error
	SetChunkCount(ctx context.Context, id string, n int) error
	Delete(ctx context.Context, id string) error
	// DeleteAll removes every document in one step and returns their ids.
	DeleteAll(ctx context.Context) ([]string, error)
}

// VectorIndex stores chunk embeddings for similarity search.
type VectorIndex interface {
	Insert(ctx context.Context, tag string, entries []domain.IndexEntry) error
	DeleteByDocument(ctx context.Context, documentID string) (int, error)
	DeleteAll(ctx context.Context) (int, error)
	Search(ctx context.Context, query []float32, k int, documentID string) ([]domain.SearchHit, error)
	CountByDocument(ctx context.Context, documentID string) (int, error)
}

// BlobStore keeps uploaded source files.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// IngestionCanceller stops in-flight ingestion runs.
type IngestionCanceller interface {
	Cancel(documentID string)
	CancelAll()
	// Exclusive runs fn while no ingestion run is in progress.
	Exclusive(ctx context.Context, fn func() error) error
	// Locked runs fn while holding the document's ingestion lock.
	Locked(ctx context.Context, documentID string, fn func() error) error
}

// DocumentService lists, serves and deletes documents, keeping the index
// and blob store consistent with the document store.
type DocumentService struct {
	repo     DocumentRepository
	index    VectorIndex
	blobs    BlobStore
	pipeline IngestionCanceller
}

func NewDocumentService(repo DocumentRepository, index VectorIndex, blobs BlobStore, pipeline IngestionCanceller) *DocumentService {
	return &DocumentService{
		repo:     repo,
		index:    index,
		blobs:    blobs,
		pipeline: pipeline,
	}
}

func (s *DocumentService) List(ctx context.Context) ([]*domain.Document, error) {
	return s.repo.List(ctx)
}

func (s *DocumentService) Get(ctx context.Context, id string) (*domain.Document, error) {
	return s.repo.Get(ctx, id)
}

// Open returns the stored source file of a document.
func (s *DocumentService) Open(ctx context.Context, id string) (*domain.Document, io.ReadCloser, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	return doc, rc, nil
}

// Delete removes a document, its vectors and its source file. An ingestion
// run for the document is cancelled first.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	s.pipeline.Cancel(id)
	return s.pipeline.Locked(ctx, id, func() error {
		return s.purge(ctx, id)
	})
}

// purge deletes a document's vectors, record and blob. Callers hold the
// document's ingestion lock.
func (s *DocumentService) purge(ctx context.Context, id string) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.index.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete vectors of %s: %w", id, err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.deleteBlob(ctx, doc.StorageKey)

	ctxzap.Info(ctx, "document deleted", zap.String("filename", id))
	return nil
}

// DeleteAll removes every document. All ingestion runs are cancelled and
// new ones wait until the deletion is finished. If some documents survive,
// the error is a *domain.PartialDeleteError naming them.
func (s *DocumentService) DeleteAll(ctx context.Context) (int, error) {
	s.pipeline.CancelAll()

	var deleted []string
	err := s.pipeline.Exclusive(ctx, func() error {
		var err error
		deleted, err = s.repo.DeleteAll(ctx)
		if err != nil {
			return err
		}
		if _, err := s.index.DeleteAll(ctx); err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, s.partialDeleteError(ctx, err)
	}

	for _, id := range deleted {
		s.deleteBlob(ctx, domain.StorageKeyFor(id))
	}
	ctxzap.Info(ctx, "all documents deleted", zap.Int("count", len(deleted)))
	return len(deleted), nil
}

func (s *DocumentService) partialDeleteError(ctx context.Context, cause error) error {
	telemetry.CaptureError(ctx, cause)

	docs, err := s.repo.List(ctx)
	if err != nil {
		return errors.Join(cause, err)
	}
	if len(docs) == 0 {
		return cause
	}
	survivors := make([]string, len(docs))
	for i, d := range docs {
		survivors[i] = d.ID
	}
	return &domain.PartialDeleteError{Survivors: survivors, Err: cause}
}

func (s *DocumentService) deleteBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil && !domain.HasCode(err, domain.ErrCodeNotFound) {
		ctxzap.Warn(ctx, "failed to delete source file", zap.String("key", key), zap.Error(err))
	}
}

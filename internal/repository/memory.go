package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cloo-solutions/lightrag/internal/domain"
)

// MemoryDocumentRepository keeps documents in process memory. It applies
// the same duplicate rules as the Postgres repository.
type MemoryDocumentRepository struct {
	mu   sync.RWMutex
	docs map[string]*domain.Document
	now  func() time.Time
}

func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{
		docs: make(map[string]*domain.Document),
		now:  time.Now,
	}
}

func (r *MemoryDocumentRepository) Register(_ context.Context, d *domain.Document) error {
	if err := domain.ValidateDocument(d); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid document", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[d.ID]; ok {
		return domain.ErrDuplicateDocument
	}
	for _, existing := range r.docs {
		if existing.ContentHash == d.ContentHash && existing.Status != domain.DocumentStatusFailed {
			return domain.ErrDuplicateDocument
		}
	}
	cp := *d
	r.docs[d.ID] = &cp
	return nil
}

func (r *MemoryDocumentRepository) Get(_ context.Context, id string) (*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *MemoryDocumentRepository) List(_ context.Context) ([]*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	docs := make([]*domain.Document, 0, len(r.docs))
	for _, d := range r.docs {
		cp := *d
		docs = append(docs, &cp)
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

func (r *MemoryDocumentRepository) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, reason string) error {
	if !domain.IsValidDocumentStatus(status) {
		return domain.NewDomainError(domain.ErrCodeValidation, "invalid document status: "+string(status))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	d.Transition(status, reason, r.now().UTC())
	return nil
}

func (r *MemoryDocumentRepository) SetChunkCount(_ context.Context, id string, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	d.ChunkCount = n
	d.UpdatedAt = r.now().UTC()
	return nil
}

func (r *MemoryDocumentRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[id]; !ok {
		return domain.ErrDocumentNotFound
	}
	delete(r.docs, id)
	return nil
}

func (r *MemoryDocumentRepository) DeleteAll(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	r.docs = make(map[string]*domain.Document)
	return ids, nil
}

package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockJobProcessor is a mock implementation of JobProcessor
type MockJobProcessor struct {
	mock.Mock
}

func (m *MockJobProcessor) ProcessJobs(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockDocumentLister struct {
	mock.Mock
}

func (m *MockDocumentLister) List(ctx context.Context) ([]*domain.Document, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Document), args.Error(1)
}

type MockIngestionResumer struct {
	mock.Mock
}

func (m *MockIngestionResumer) IsActive(documentID string) bool {
	return m.Called(documentID).Bool(0)
}

func (m *MockIngestionResumer) Resume(ctx context.Context, doc *domain.Document) error {
	return m.Called(ctx, doc).Error(0)
}

type countingCompactable struct {
	calls int
	ret   int
}

func (c *countingCompactable) Compact() int {
	c.calls++
	return c.ret
}

func TestWorker_StartStop(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker("test", mockProcessor, 100*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(250 * time.Millisecond)

	worker.Stop()
	wg.Wait()

	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

func TestWorker_ContextCancellation(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(errors.New("transient"))

	worker := NewWorker("test", mockProcessor, 100*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(150 * time.Millisecond)

	cancel()
	wg.Wait()

	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

func TestCompactionJob_ProcessJobs(t *testing.T) {
	idx := &countingCompactable{ret: 3}
	job := NewCompactionJob(idx, nil)

	assert.NoError(t, job.ProcessJobs(context.Background()))
	assert.Equal(t, 1, idx.calls)
}

func TestRecoveryWorker_ResumesOnlyStaleInactiveDocuments(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	stale := &domain.Document{ID: "stale.pdf", Status: domain.DocumentStatusEmbedding, UpdatedAt: now.Add(-time.Hour)}
	running := &domain.Document{ID: "running.pdf", Status: domain.DocumentStatusChunking, UpdatedAt: now.Add(-time.Hour)}
	fresh := &domain.Document{ID: "fresh.pdf", Status: domain.DocumentStatusPending, UpdatedAt: now}
	ready := &domain.Document{ID: "ready.pdf", Status: domain.DocumentStatusReady, UpdatedAt: now.Add(-time.Hour)}

	lister := new(MockDocumentLister)
	lister.On("List", mock.Anything).Return([]*domain.Document{stale, running, fresh, ready}, nil)

	resumer := new(MockIngestionResumer)
	resumer.On("IsActive", "stale.pdf").Return(false)
	resumer.On("IsActive", "running.pdf").Return(true)
	resumer.On("IsActive", "fresh.pdf").Return(false)
	resumer.On("Resume", mock.Anything, stale).Return(nil)

	w := NewRecoveryWorker(lister, resumer, 10*time.Minute, nil)
	w.now = func() time.Time { return now }

	assert.NoError(t, w.ProcessJobs(context.Background()))
	resumer.AssertExpectations(t)
	resumer.AssertNumberOfCalls(t, "Resume", 1)
}

func TestRecoveryWorker_ListError(t *testing.T) {
	lister := new(MockDocumentLister)
	lister.On("List", mock.Anything).Return(nil, errors.New("database error"))

	w := NewRecoveryWorker(lister, new(MockIngestionResumer), time.Minute, nil)
	err := w.ProcessJobs(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list documents")
}

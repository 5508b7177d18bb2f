package handlers

import (
	"context"
	"io"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/cloo-solutions/lightrag/internal/health"
	"github.com/cloo-solutions/lightrag/internal/service"
	"github.com/stretchr/testify/mock"
)

type MockDocumentService struct {
	mock.Mock
}

func (m *MockDocumentService) List(ctx context.Context) ([]*domain.Document, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Document), args.Error(1)
}

func (m *MockDocumentService) Open(ctx context.Context, id string) (*domain.Document, io.ReadCloser, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*domain.Document), args.Get(1).(io.ReadCloser), args.Error(2)
}

func (m *MockDocumentService) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDocumentService) DeleteAll(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockProgressStore struct {
	mock.Mock
}

func (m *MockProgressStore) Get(documentID string) (domain.ProgressEvent, bool) {
	args := m.Called(documentID)
	return args.Get(0).(domain.ProgressEvent), args.Bool(1)
}

func (m *MockProgressStore) Forget(documentID string) {
	m.Called(documentID)
}

func (m *MockProgressStore) Reset() {
	m.Called()
}

type MockIngestor struct {
	mock.Mock
}

func (m *MockIngestor) Ingest(ctx context.Context, up service.Upload) (*domain.Document, error) {
	args := m.Called(ctx, up)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockIngestor) IngestAsync(ctx context.Context, up service.Upload) (*domain.Document, error) {
	args := m.Called(ctx, up)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

type MockQueryService struct {
	mock.Mock
}

func (m *MockQueryService) Query(ctx context.Context, in service.QueryInput) (service.TokenStream, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(service.TokenStream), args.Error(1)
}

type MockModelRegistry struct {
	mock.Mock
}

func (m *MockModelRegistry) Set(name string) error {
	args := m.Called(name)
	return args.Error(0)
}

func (m *MockModelRegistry) Current() string {
	args := m.Called()
	return args.String(0)
}

type MockHealthReporter struct {
	mock.Mock
}

func (m *MockHealthReporter) Snapshot(ctx context.Context) (health.Snapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(health.Snapshot), args.Error(1)
}

// sliceStream replays tokens and then returns err, or io.EOF when err is nil.
type sliceStream struct {
	tokens []string
	err    error
	closed bool
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.tokens) > 0 {
		tok := s.tokens[0]
		s.tokens = s.tokens[1:]
		return tok, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

package service

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockEmbeddingProvider mocks an embedding backend.
type MockEmbeddingProvider struct {
	mock.Mock
}

func (m *MockEmbeddingProvider) Name() string           { return "mock" }
func (m *MockEmbeddingProvider) EmbeddingModel() string { return "mock-embed" }

func (m *MockEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

// MockResourceMonitor mocks host resource checks.
type MockResourceMonitor struct {
	mock.Mock
}

func (m *MockResourceMonitor) Check(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockGenerator mocks a generation provider.
type MockGenerator struct {
	mock.Mock
	name string
}

func (m *MockGenerator) Name() string      { return m.name }
func (m *MockGenerator) ChatModel() string { return m.name + "-chat" }

func (m *MockGenerator) GenerateStream(ctx context.Context, prompt Prompt) (TokenStream, error) {
	args := m.Called(ctx, prompt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(TokenStream), args.Error(1)
}

// letterProvider embeds text as letter frequencies plus a constant
// component, so texts sharing vocabulary score higher.
type letterProvider struct {
	mu    sync.Mutex
	calls int
	// block, when set, is waited on before every call returns.
	block chan struct{}
	// failOn makes calls containing the substring fail.
	failOn string
	err    error
}

func (p *letterProvider) Name() string           { return "fake" }
func (p *letterProvider) EmbeddingModel() string { return "letters" }

func (p *letterProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.calls++
	block := p.block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		if p.failOn != "" && strings.Contains(t, p.failOn) {
			return nil, p.err
		}
		out[i] = letterVector(t)
	}
	return out, nil
}

func (p *letterProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func letterVector(text string) []float32 {
	v := make([]float32, 27)
	v[26] = 1
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v
}

// sliceStream replays fixed tokens, then ends with err or io.EOF.
type sliceStream struct {
	tokens []string
	err    error
	closed bool
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.tokens) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

// recordingObserver keeps every progress event.
type recordingObserver struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (o *recordingObserver) OnProgress(_ context.Context, e domain.ProgressEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

// stages returns the distinct stages seen for a document, in order.
func (o *recordingObserver) stages(id string) []domain.DocumentStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []domain.DocumentStatus
	for _, e := range o.events {
		if e.DocumentID != id {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != e.Stage {
			out = append(out, e.Stage)
		}
	}
	return out
}

// countingExtractor wraps a TextExtractor and counts expensive calls.
type countingExtractor struct {
	TextExtractor

	mu       sync.Mutex
	pages    int
	extracts int
}

func (e *countingExtractor) CountPages(ctx context.Context, filename string, data []byte) (int, error) {
	e.mu.Lock()
	e.pages++
	e.mu.Unlock()
	return e.TextExtractor.CountPages(ctx, filename, data)
}

func (e *countingExtractor) Extract(ctx context.Context, filename string, data []byte) ([]string, error) {
	e.mu.Lock()
	e.extracts++
	e.mu.Unlock()
	return e.TextExtractor.Extract(ctx, filename, data)
}

func (e *countingExtractor) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pages, e.extracts
}

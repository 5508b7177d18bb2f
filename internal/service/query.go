package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/cloo-solutions/lightrag/internal/logger"
	"github.com/cloo-solutions/lightrag/internal/telemetry"
	"github.com/getsentry/sentry-go"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// DefaultTopK is the number of chunks retrieved per query.
const DefaultTopK = 4

// QueryEmbedder embeds query text.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// QueryInput is a question with an optional document restriction.
type QueryInput struct {
	Text       string
	DocumentID string
}

// QueryEngine answers questions from indexed chunks with a streamed
// completion.
type QueryEngine struct {
	docs      DocumentRepository
	index     VectorIndex
	embedder  QueryEmbedder
	providers *ProviderRegistry
	prompts   *PromptBuilder
	topK      int
}

func NewQueryEngine(docs DocumentRepository, index VectorIndex, embedder QueryEmbedder, providers *ProviderRegistry, prompts *PromptBuilder, topK int) *QueryEngine {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if prompts == nil {
		prompts = NewPromptBuilder(nil, 0)
	}
	return &QueryEngine{
		docs:      docs,
		index:     index,
		embedder:  embedder,
		providers: providers,
		prompts:   prompts,
		topK:      topK,
	}
}

// Retrieve returns the ranked hits for a query without generating.
func (e *QueryEngine) Retrieve(ctx context.Context, in QueryInput) ([]domain.SearchHit, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, domain.ErrEmptyQuery
	}

	if in.DocumentID != "" {
		if _, err := e.docs.Get(ctx, in.DocumentID); err != nil {
			return nil, err
		}
		n, err := e.index.CountByDocument(ctx, in.DocumentID)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, domain.ErrEmptyDocument
		}
	}

	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	return e.index.Search(ctx, vector, e.topK, in.DocumentID)
}

// Query retrieves context for in and starts generation. Errors before the
// first token are returned directly; later failures surface from Recv. The
// stream stops when ctx is cancelled.
func (e *QueryEngine) Query(ctx context.Context, in QueryInput) (TokenStream, error) {
	ctx = logger.WithAction(ctx, "query")
	ctx, span := telemetry.StartSpan(ctx, "query.answer", telemetry.SpanAttributes{
		DocumentID: in.DocumentID,
		Operation:  "query",
	})

	generator, err := e.providers.Generator()
	if err != nil {
		span.End()
		return nil, err
	}

	hits, err := e.Retrieve(ctx, in)
	if err != nil {
		span.End()
		return nil, err
	}

	prompt, used := e.prompts.Build(strings.TrimSpace(in.Text), hits)
	ctxzap.Info(ctx, "query context assembled",
		zap.String("provider", generator.Name()),
		zap.String("filename", in.DocumentID),
		zap.Int("retrieved", len(hits)),
		zap.Int("used", len(used)),
	)

	stream, err := generator.GenerateStream(ctx, prompt)
	if err != nil {
		span.SetError(err)
		span.End()
		return nil, err
	}
	return &tracedStream{TokenStream: stream, span: span}, nil
}

// tracedStream ends the query span once the stream is drained or closed.
type tracedStream struct {
	TokenStream
	span *telemetry.Span
	once sync.Once
}

func (s *tracedStream) Recv() (string, error) {
	tok, err := s.TokenStream.Recv()
	switch {
	case errors.Is(err, io.EOF):
		recordOutcome(s.span, nil)
	case err != nil:
		recordOutcome(s.span, err)
	}
	return tok, err
}

func (s *tracedStream) Close() error {
	s.once.Do(s.span.End)
	return s.TokenStream.Close()
}

// recordOutcome sets the span status for err. Cancellations and timeouts
// are not reported as exceptions.
func recordOutcome(span *telemetry.Span, err error) {
	switch {
	case err == nil:
		span.SetStatus(sentry.SpanStatusOK)
	case errors.Is(err, context.Canceled):
		span.SetStatus(sentry.SpanStatusCanceled)
	case errors.Is(err, context.DeadlineExceeded):
		span.SetStatus(sentry.SpanStatusDeadlineExceeded)
	default:
		span.SetError(err)
	}
}

// CollectStream drains a stream into a string and closes it.
func CollectStream(s TokenStream) (string, error) {
	defer s.Close()

	var b strings.Builder
	for {
		tok, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(tok)
	}
}

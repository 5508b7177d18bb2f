package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/cloo-solutions/lightrag/internal/telemetry"
	"github.com/getsentry/sentry-go"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestQueryEngine_RetrieveRanksAndBounds(t *testing.T) {
	h := newHarness(t, IngestionConfig{})
	h.ingest(t, "fruit.txt", longText("apples and bananas", 10))
	h.ingest(t, "space.txt", longText("rocket orbit", 10))

	hits, err := h.engine.Retrieve(context.Background(), QueryInput{Text: "bananas apples"})
	require.NoError(t, err)

	require.NotEmpty(t, hits)
	assert.LessOrEqual(t, len(hits), 3)
	assert.Equal(t, "fruit.txt", hits[0].DocumentID)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestQueryEngine_RetrieveRestrictedToDocument(t *testing.T) {
	h := newHarness(t, IngestionConfig{})
	h.ingest(t, "fruit.txt", longText("apples and bananas", 10))
	h.ingest(t, "space.txt", longText("rocket orbit", 10))

	hits, err := h.engine.Retrieve(context.Background(), QueryInput{Text: "bananas apples", DocumentID: "space.txt"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, hit := range hits {
		assert.Equal(t, "space.txt", hit.DocumentID)
	}
}

func TestQueryEngine_RetrieveErrors(t *testing.T) {
	h := newHarness(t, IngestionConfig{})

	_, err := h.engine.Retrieve(context.Background(), QueryInput{Text: "   "})
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)

	_, err = h.engine.Retrieve(context.Background(), QueryInput{Text: "q", DocumentID: "missing.txt"})
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestQueryEngine_DeleteThenSearchExcludesDocument(t *testing.T) {
	h := newHarness(t, IngestionConfig{})
	h.ingest(t, "fruit.txt", longText("apples and bananas", 10))
	h.ingest(t, "space.txt", longText("rocket orbit", 10))

	require.NoError(t, h.docs.Delete(context.Background(), "fruit.txt"))

	hits, err := h.engine.Retrieve(context.Background(), QueryInput{Text: "bananas apples"})
	require.NoError(t, err)
	for _, hit := range hits {
		assert.NotEqual(t, "fruit.txt", hit.DocumentID)
	}
}

func TestQueryEngine_QueryStreamsFromCurrentProvider(t *testing.T) {
	h := newHarness(t, IngestionConfig{})
	h.ingest(t, "fruit.txt", longText("apples and bananas", 3))

	gen := &MockGenerator{name: "ollama"}
	stream := &sliceStream{tokens: []string{"Apples ", "are ", "fruit."}}
	gen.On("GenerateStream", mock.Anything, mock.MatchedBy(func(p Prompt) bool {
		return p.System == SystemPrompt &&
			strings.Contains(p.User, "apples and bananas") &&
			strings.HasSuffix(p.User, "Question: what are apples?\n\nAnswer:")
	})).Return(stream, nil)
	h.registry.Register(gen)

	core, logs := observer.New(zap.InfoLevel)
	ctx := ctxzap.ToContext(context.Background(), zap.New(core))

	s, err := h.engine.Query(ctx, QueryInput{Text: " what are apples? "})
	require.NoError(t, err)

	answer, err := CollectStream(s)
	require.NoError(t, err)
	assert.Equal(t, "Apples are fruit.", answer)
	assert.True(t, stream.closed)
	assert.Equal(t, sentry.SpanStatusOK, spanStatus(t, s))
	gen.AssertExpectations(t)

	entries := logs.FilterMessage("query context assembled").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "query", entries[0].ContextMap()["action"])
}

func spanStatus(t *testing.T, s TokenStream) sentry.SpanStatus {
	t.Helper()
	traced, ok := s.(*tracedStream)
	require.True(t, ok)
	return sentry.SpanFromContext(traced.span.Context()).Status
}

func TestQueryEngine_QueryMidStreamError(t *testing.T) {
	h := newHarness(t, IngestionConfig{})
	h.ingest(t, "fruit.txt", longText("apples", 3))

	gen := &MockGenerator{name: "ollama"}
	gen.On("GenerateStream", mock.Anything, mock.Anything).
		Return(&sliceStream{tokens: []string{"partial"}, err: errors.New("connection reset")}, nil)
	h.registry.Register(gen)

	s, err := h.engine.Query(context.Background(), QueryInput{Text: "apples"})
	require.NoError(t, err)

	answer, err := CollectStream(s)
	assert.Equal(t, "partial", answer)
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	assert.Equal(t, sentry.SpanStatusInternalError, spanStatus(t, s))
}

func TestRecordOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want sentry.SpanStatus
	}{
		{"success", nil, sentry.SpanStatusOK},
		{"cancelled", fmt.Errorf("embed: %w", context.Canceled), sentry.SpanStatusCanceled},
		{"timed out", domain.ErrProviderUnavailable.Wrap(context.DeadlineExceeded), sentry.SpanStatusDeadlineExceeded},
		{"failure", errors.New("boom"), sentry.SpanStatusInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, span := telemetry.StartTransaction(context.Background(), "test", "test")
			defer span.End()

			recordOutcome(span, tt.err)
			assert.Equal(t, tt.want, sentry.SpanFromContext(ctx).Status)
		})
	}
}

func TestQueryEngine_QueryWithoutProvider(t *testing.T) {
	h := newHarness(t, IngestionConfig{})

	_, err := h.engine.Query(context.Background(), QueryInput{Text: "anything"})
	assert.True(t, domain.HasCode(err, domain.ErrCodeProviderUnavailable))
}

func TestQueryEngine_ProviderSwitchAffectsNextQuery(t *testing.T) {
	h := newHarness(t, IngestionConfig{})
	h.ingest(t, "fruit.txt", longText("apples", 3))

	ollama := &MockGenerator{name: "ollama"}
	ollama.On("GenerateStream", mock.Anything, mock.Anything).Return(&sliceStream{tokens: []string{"from ollama"}}, nil)
	openai := &MockGenerator{name: "openai"}
	openai.On("GenerateStream", mock.Anything, mock.Anything).Return(&sliceStream{tokens: []string{"from openai"}}, nil)
	h.registry.Register(ollama)
	h.registry.Register(openai)

	first, err := h.engine.Query(context.Background(), QueryInput{Text: "apples"})
	require.NoError(t, err)
	require.NoError(t, h.registry.Set("openai"))

	answer, err := CollectStream(first)
	require.NoError(t, err)
	assert.Equal(t, "from ollama", answer, "a running query keeps its provider")

	second, err := h.engine.Query(context.Background(), QueryInput{Text: "apples"})
	require.NoError(t, err)
	answer, err = CollectStream(second)
	require.NoError(t, err)
	assert.Equal(t, "from openai", answer)
}

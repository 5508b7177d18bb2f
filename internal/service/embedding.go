package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cloo-solutions/lightrag/internal/domain"
	rretry "github.com/cloo-solutions/lightrag/internal/retry"
	"github.com/cloo-solutions/lightrag/internal/telemetry"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// EmbeddingProvider turns texts into vectors. Implementations wrap failures
// that are worth retrying (network errors, 5xx, rate limits, model loading)
// with domain.ErrProviderUnavailable.
type EmbeddingProvider interface {
	Name() string
	EmbeddingModel() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// BatchSizer is implemented by providers that prefer a request size other
// than the gateway default.
type BatchSizer interface {
	BatchSize() int
}

const defaultBatchSize = 32

// EmbeddingConfig controls batching and input prefixes. A zero BatchSize
// defers to the provider.
type EmbeddingConfig struct {
	BatchSize      int
	QueryPrefix    string
	DocumentPrefix string
	Retry          *rretry.RetryConfig
	QueryCacheTTL  time.Duration
}

// BatchProgress is called after each completed batch.
type BatchProgress func(done, total int)

// EmbeddingGateway batches, retries and normalizes calls to an
// EmbeddingProvider. A batch either yields one vector per input or fails.
type EmbeddingGateway struct {
	provider EmbeddingProvider
	cfg      EmbeddingConfig
	cache    *gocache.Cache
}

func NewEmbeddingGateway(provider EmbeddingProvider, cfg EmbeddingConfig) *EmbeddingGateway {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
		if s, ok := provider.(BatchSizer); ok && s.BatchSize() > 0 {
			cfg.BatchSize = s.BatchSize()
		}
	}
	if cfg.Retry == nil {
		cfg.Retry = rretry.DefaultRetryConfig()
	}
	if cfg.QueryCacheTTL <= 0 {
		cfg.QueryCacheTTL = 10 * time.Minute
	}
	return &EmbeddingGateway{
		provider: provider,
		cfg:      cfg,
		cache:    gocache.New(cfg.QueryCacheTTL, 2*cfg.QueryCacheTTL),
	}
}

// Tag identifies the provider and model behind every vector produced here.
func (g *EmbeddingGateway) Tag() string {
	return domain.ProviderTag(g.provider.Name(), g.provider.EmbeddingModel())
}

// Embed embeds document texts in batches. progress may be nil.
func (g *EmbeddingGateway) Embed(ctx context.Context, texts []string, progress BatchProgress) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "embedding.embed", telemetry.SpanAttributes{
		Provider:  g.Tag(),
		Operation: "embed_documents",
	})
	defer span.End()

	total := (len(texts) + g.cfg.BatchSize - 1) / g.cfg.BatchSize
	out := make([][]float32, 0, len(texts))
	dim := 0
	for b := 0; b < total; b++ {
		lo := b * g.cfg.BatchSize
		hi := min(lo+g.cfg.BatchSize, len(texts))

		batch := make([]string, hi-lo)
		for i, t := range texts[lo:hi] {
			batch[i] = g.cfg.DocumentPrefix + t
		}

		vectors, err := g.embedBatch(ctx, batch, dim)
		if err != nil {
			recordOutcome(span, err)
			return nil, fmt.Errorf("batch %d/%d: %w", b+1, total, err)
		}
		dim = len(vectors[0])
		out = append(out, vectors...)

		if progress != nil {
			progress(b+1, total)
		}
	}
	recordOutcome(span, nil)
	return out, nil
}

// EmbedQuery embeds a search query. Results are cached per query text.
func (g *EmbeddingGateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	input := g.cfg.QueryPrefix + text
	if v, ok := g.cache.Get(input); ok {
		return v.([]float32), nil
	}

	vectors, err := g.embedBatch(ctx, []string{input}, 0)
	if err != nil {
		return nil, err
	}
	g.cache.SetDefault(input, vectors[0])
	return vectors[0], nil
}

func (g *EmbeddingGateway) embedBatch(ctx context.Context, batch []string, wantDim int) ([][]float32, error) {
	var vectors [][]float32
	attempt := 0
	err := retry.Do(
		func() error {
			attempt++
			var err error
			vectors, err = g.provider.Embed(ctx, batch)
			return err
		},
		append(g.cfg.Retry.ToRetryOptions(ctx),
			retry.RetryIf(isRetryable),
			retry.OnRetry(func(n uint, err error) {
				ctxzap.Warn(ctx, "embedding batch failed, retrying",
					zap.String("provider", g.Tag()),
					zap.Uint("attempt", n+1),
					zap.Error(err),
				)
			}),
		)...,
	)
	if err != nil {
		return nil, domain.ErrEmbeddingFailed.Wrap(fmt.Errorf("after %d attempt(s): %w", attempt, err))
	}

	if len(vectors) != len(batch) {
		return nil, domain.ErrEmbeddingFailed.Wrap(
			fmt.Errorf("provider returned %d vectors for %d inputs", len(vectors), len(batch)))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, domain.ErrEmbeddingFailed.Wrap(fmt.Errorf("empty vector at position %d", i))
		}
		if wantDim == 0 {
			wantDim = len(v)
		}
		if len(v) != wantDim {
			return nil, domain.ErrEmbeddingFailed.Wrap(
				fmt.Errorf("inconsistent dimension at position %d: %d != %d", i, len(v), wantDim))
		}
		n, err := domain.Normalize(v)
		if err != nil {
			return nil, domain.ErrEmbeddingFailed.Wrap(fmt.Errorf("position %d: %w", i, err))
		}
		vectors[i] = n
	}
	return vectors, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return domain.HasCode(err, domain.ErrCodeProviderUnavailable)
}

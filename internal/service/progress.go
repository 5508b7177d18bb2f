package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// ProgressObserver receives ingestion progress events. Implementations
// must not block.
type ProgressObserver interface {
	OnProgress(ctx context.Context, event domain.ProgressEvent)
}

// ObserverFunc adapts a function to ProgressObserver.
type ObserverFunc func(ctx context.Context, event domain.ProgressEvent)

func (f ObserverFunc) OnProgress(ctx context.Context, event domain.ProgressEvent) {
	f(ctx, event)
}

// MultiObserver fans events out to several observers in order.
type MultiObserver []ProgressObserver

func (m MultiObserver) OnProgress(ctx context.Context, event domain.ProgressEvent) {
	for _, o := range m {
		if o != nil {
			o.OnProgress(ctx, event)
		}
	}
}

// LogObserver writes progress events to the context logger.
type LogObserver struct{}

func (LogObserver) OnProgress(ctx context.Context, event domain.ProgressEvent) {
	fields := []zap.Field{
		zap.String("filename", event.DocumentID),
		zap.String("stage", string(event.Stage)),
		zap.Int("percent", event.Percent),
	}
	if event.Stage == domain.DocumentStatusFailed {
		ctxzap.Warn(ctx, "ingestion failed", append(fields, zap.String("reason", event.Message))...)
		return
	}
	ctxzap.Debug(ctx, "ingestion progress", fields...)
}

// ProgressTracker remembers the latest event per document for a while so
// clients can poll it.
type ProgressTracker struct {
	cache *gocache.Cache
}

func NewProgressTracker(ttl time.Duration) *ProgressTracker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ProgressTracker{cache: gocache.New(ttl, ttl/2)}
}

func (t *ProgressTracker) OnProgress(_ context.Context, event domain.ProgressEvent) {
	t.cache.SetDefault(event.DocumentID, event)
}

// Get returns the latest event for a document.
func (t *ProgressTracker) Get(documentID string) (domain.ProgressEvent, bool) {
	v, ok := t.cache.Get(documentID)
	if !ok {
		return domain.ProgressEvent{}, false
	}
	return v.(domain.ProgressEvent), true
}

// Forget drops the tracked state of a document.
func (t *ProgressTracker) Forget(documentID string) {
	t.cache.Delete(documentID)
}

// Reset drops every tracked document.
func (t *ProgressTracker) Reset() {
	t.cache.Flush()
}

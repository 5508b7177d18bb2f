package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/cloo-solutions/lightrag/internal/logger"
	rretry "github.com/cloo-solutions/lightrag/internal/retry"
	"github.com/cloo-solutions/lightrag/internal/telemetry"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// TextExtractor validates uploads and pulls text out of them.
type TextExtractor interface {
	// Supports reports whether the filename's extension can be ingested.
	Supports(filename string) bool
	// Detect sniffs the content type and checks it agrees with the extension.
	Detect(filename string, data []byte) (string, error)
	CountPages(ctx context.Context, filename string, data []byte) (int, error)
	// Extract returns the text of each page in order.
	Extract(ctx context.Context, filename string, data []byte) ([]string, error)
}

// DocumentEmbedder embeds document chunks.
type DocumentEmbedder interface {
	Tag() string
	Embed(ctx context.Context, texts []string, progress BatchProgress) ([][]float32, error)
}

// ResourceMonitor reports whether the host can take on ingestion work. Check
// returns an error carrying domain.ErrResourceExhausted under pressure.
type ResourceMonitor interface {
	Check(ctx context.Context) error
}

// IngestionConfig bounds admission and execution.
type IngestionConfig struct {
	MaxFileSize int64
	MaxPages    int
	Timeout     time.Duration
	// ResourceRetry controls how long ingestion waits out resource pressure.
	ResourceRetry *rretry.RetryConfig
}

// Upload is a file received from a client.
type Upload struct {
	Filename string
	Data     []byte
}

// IngestionPipeline admits uploads and drives them through extraction,
// chunking, embedding and indexing. Runs for different documents proceed
// concurrently; runs for one document are serialized.
type IngestionPipeline struct {
	repo      DocumentRepository
	blobs     BlobStore
	extractor TextExtractor
	chunker   *Chunker
	embedder  DocumentEmbedder
	index     VectorIndex
	monitor   ResourceMonitor
	observer  ProgressObserver
	cfg       IngestionConfig

	locks *KeyedMutex
	// gate is held shared by admission and runs and exclusively by
	// delete-all.
	gate sync.RWMutex

	mu   sync.Mutex
	runs map[string]context.CancelFunc
	wg   sync.WaitGroup

	now func() time.Time
}

func NewIngestionPipeline(
	repo DocumentRepository,
	blobs BlobStore,
	extractor TextExtractor,
	chunker *Chunker,
	embedder DocumentEmbedder,
	index VectorIndex,
	monitor ResourceMonitor,
	observer ProgressObserver,
	cfg IngestionConfig,
) *IngestionPipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.ResourceRetry == nil {
		cfg.ResourceRetry = &rretry.RetryConfig{Attempts: 5, Delay: time.Second, MaxDelay: 10 * time.Second}
	}
	if observer == nil {
		observer = MultiObserver{}
	}
	return &IngestionPipeline{
		repo:      repo,
		blobs:     blobs,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		monitor:   monitor,
		observer:  observer,
		cfg:       cfg,
		locks:     NewKeyedMutex(),
		runs:      make(map[string]context.CancelFunc),
		now:       time.Now,
	}
}

// Ingest admits an upload and runs it to completion. The run continues on
// its own context if the caller goes away, so a disconnecting client does
// not leave the document half-indexed.
func (p *IngestionPipeline) Ingest(ctx context.Context, up Upload) (*domain.Document, error) {
	doc, err := p.Admit(ctx, up)
	if err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		done <- p.Run(logger.Detach(ctx), doc, up.Data)
	}()

	select {
	case err := <-done:
		if err != nil {
			return doc, err
		}
		return p.repo.Get(ctx, doc.ID)
	case <-ctx.Done():
		return doc, ctx.Err()
	}
}

// IngestAsync admits an upload and runs it in the background.
func (p *IngestionPipeline) IngestAsync(ctx context.Context, up Upload) (*domain.Document, error) {
	doc, err := p.Admit(ctx, up)
	if err != nil {
		return nil, err
	}
	p.start(logger.Detach(ctx), doc, up.Data)
	return doc, nil
}

// Resume restarts ingestion of a stored document from its source file.
func (p *IngestionPipeline) Resume(ctx context.Context, doc *domain.Document) error {
	if p.IsActive(doc.ID) {
		return nil
	}
	p.start(logger.Detach(ctx), doc, nil)
	return nil
}

func (p *IngestionPipeline) start(ctx context.Context, doc *domain.Document, data []byte) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.Run(ctx, doc, data); err != nil {
			ctxzap.Warn(ctx, "background ingestion failed", zap.String("filename", doc.ID), zap.Error(err))
		}
	}()
}

// Admit validates an upload and registers it as pending. Nothing is
// extracted or embedded here; every rejection happens before that work.
func (p *IngestionPipeline) Admit(ctx context.Context, up Upload) (*domain.Document, error) {
	if up.Filename == "" {
		return nil, domain.ErrNoSelectedFile
	}
	id := domain.SanitizeFilename(up.Filename)
	if id == "" || !p.extractor.Supports(id) {
		return nil, domain.ErrUnsupportedFileType
	}
	if len(up.Data) == 0 {
		return nil, domain.ErrEmptyFile
	}
	if p.cfg.MaxFileSize > 0 && int64(len(up.Data)) > p.cfg.MaxFileSize {
		return nil, domain.ErrFileTooLarge.Wrap(
			fmt.Errorf("%d bytes exceeds limit of %d bytes", len(up.Data), p.cfg.MaxFileSize))
	}
	mimeType, err := p.extractor.Detect(id, up.Data)
	if err != nil {
		return nil, err
	}

	p.gate.RLock()
	defer p.gate.RUnlock()

	if err := p.locks.Lock(ctx, id); err != nil {
		return nil, err
	}
	defer p.locks.Unlock(id)

	existing, err := p.repo.Get(ctx, id)
	switch {
	case err == nil && existing.Status != domain.DocumentStatusFailed:
		return nil, domain.ErrDuplicateDocument
	case err == nil:
		if err := p.discard(ctx, id); err != nil {
			return nil, err
		}
	case !domain.HasCode(err, domain.ErrCodeNotFound):
		return nil, err
	}

	pages, err := p.extractor.CountPages(ctx, id, up.Data)
	if err != nil {
		return nil, err
	}
	if p.cfg.MaxPages > 0 && pages > p.cfg.MaxPages {
		return nil, domain.ErrPageLimitExceeded.Wrap(
			fmt.Errorf("%d pages exceeds limit of %d", pages, p.cfg.MaxPages))
	}

	if p.monitor != nil {
		if err := p.monitor.Check(ctx); err != nil {
			return nil, err
		}
	}

	sum := sha256.Sum256(up.Data)
	doc := domain.NewDocument(id, int64(len(up.Data)), pages, hex.EncodeToString(sum[:]), mimeType, p.now().UTC())
	if err := p.repo.Register(ctx, doc); err != nil {
		return nil, err
	}
	if err := p.blobs.Put(ctx, doc.StorageKey, up.Data, mimeType); err != nil {
		if derr := p.repo.Delete(ctx, id); derr != nil {
			ctxzap.Error(ctx, "failed to roll back registration", zap.String("filename", id), zap.Error(derr))
		}
		return nil, fmt.Errorf("failed to store source file: %w", err)
	}

	p.emit(ctx, doc.ID, domain.DocumentStatusPending, domain.ProgressPending, "")
	ctxzap.Info(ctx, "document admitted",
		zap.String("filename", id),
		zap.Int64("size", doc.Size),
		zap.Int("pages", pages),
	)
	return doc, nil
}

// discard removes a failed document so it can be uploaded again. The
// caller holds the document lock.
func (p *IngestionPipeline) discard(ctx context.Context, id string) error {
	if _, err := p.index.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete vectors of %s: %w", id, err)
	}
	return p.repo.Delete(ctx, id)
}

// Run executes the ingestion stages for an admitted document. data may be
// nil, in which case the source file is read from the blob store. The run
// is bounded by the configured timeout regardless of ctx's own deadline.
func (p *IngestionPipeline) Run(ctx context.Context, doc *domain.Document, data []byte) error {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout)
	defer cancel()
	runCtx = logger.WithAction(logger.AddFields(runCtx, zap.String("filename", doc.ID)), "ingest")

	p.track(doc.ID, cancel)
	defer p.untrack(doc.ID)

	p.gate.RLock()
	defer p.gate.RUnlock()

	if err := p.locks.Lock(runCtx, doc.ID); err != nil {
		return p.fail(runCtx, doc, domain.DocumentStatusPending, err)
	}
	defer p.locks.Unlock(doc.ID)

	current, err := p.repo.Get(runCtx, doc.ID)
	if err != nil {
		return err
	}
	if current.ContentHash != doc.ContentHash {
		return domain.ErrDocumentNotFound.Wrap(fmt.Errorf("document was replaced"))
	}

	runCtx, span := telemetry.StartTransaction(runCtx, "ingest "+doc.ID, "ingest")
	defer span.End()

	start := p.now()
	chunks, err := p.execute(runCtx, doc, data)
	recordOutcome(span, err)
	if err != nil {
		return p.fail(runCtx, doc, p.lastStage(runCtx, doc.ID), err)
	}

	ctxzap.Info(runCtx, "document ingested",
		zap.Int("chunks", chunks),
		zap.Duration("duration", p.now().Sub(start)),
	)
	return nil
}

func (p *IngestionPipeline) execute(ctx context.Context, doc *domain.Document, data []byte) (int, error) {
	if err := p.transition(ctx, doc.ID, domain.DocumentStatusExtracting); err != nil {
		return 0, err
	}
	if err := p.awaitResources(ctx); err != nil {
		return 0, err
	}
	if data == nil {
		var err error
		if data, err = p.load(ctx, doc.StorageKey); err != nil {
			return 0, err
		}
	}
	pages, err := p.extractor.Extract(ctx, doc.ID, data)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(strings.Join(pages, "")) == "" {
		return 0, domain.ErrNoExtractableText
	}

	if err := p.transition(ctx, doc.ID, domain.DocumentStatusChunking); err != nil {
		return 0, err
	}
	chunks := p.chunker.ChunkPages(doc.ID, pages)
	if len(chunks) == 0 {
		return 0, domain.ErrNoExtractableText
	}

	if err := p.transition(ctx, doc.ID, domain.DocumentStatusEmbedding); err != nil {
		return 0, err
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.Embed(ctx, texts, func(done, total int) {
		p.emit(ctx, doc.ID, domain.DocumentStatusEmbedding, domain.EmbeddingPercent(done, total),
			fmt.Sprintf("embedded batch %d of %d", done, total))
	})
	if err != nil {
		return 0, err
	}

	if err := p.transition(ctx, doc.ID, domain.DocumentStatusIndexing); err != nil {
		return 0, err
	}
	entries := make([]domain.IndexEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = domain.NewIndexEntry(c, vectors[i])
	}
	if _, err := p.index.DeleteByDocument(ctx, doc.ID); err != nil {
		return 0, err
	}
	if err := p.index.Insert(ctx, p.embedder.Tag(), entries); err != nil {
		return 0, err
	}

	if err := p.repo.SetChunkCount(ctx, doc.ID, len(chunks)); err != nil {
		return 0, err
	}
	if err := p.transition(ctx, doc.ID, domain.DocumentStatusReady); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

func (p *IngestionPipeline) transition(ctx context.Context, id string, status domain.DocumentStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.repo.UpdateStatus(ctx, id, status, ""); err != nil {
		return err
	}
	telemetry.AddBreadcrumb(ctx, "ingest", fmt.Sprintf("%s: %s", id, status))
	p.emit(ctx, id, status, domain.StagePercent(status), "")
	return nil
}

func (p *IngestionPipeline) awaitResources(ctx context.Context) error {
	if p.monitor == nil {
		return nil
	}
	return retry.Do(
		func() error { return p.monitor.Check(ctx) },
		append(p.cfg.ResourceRetry.ToRetryOptions(ctx),
			retry.RetryIf(func(err error) bool {
				return domain.HasCode(err, domain.ErrCodeResourceExhausted)
			}),
			retry.OnRetry(func(n uint, err error) {
				ctxzap.Warn(ctx, "waiting for system resources", zap.Uint("attempt", n+1), zap.Error(err))
			}),
		)...,
	)
}

func (p *IngestionPipeline) load(ctx context.Context, key string) ([]byte, error) {
	rc, err := p.blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("failed to read source file: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *IngestionPipeline) lastStage(ctx context.Context, id string) domain.DocumentStatus {
	doc, err := p.repo.Get(context.WithoutCancel(ctx), id)
	if err != nil {
		return domain.DocumentStatusPending
	}
	return doc.LastStage
}

// fail records a failed run. A cancelled run means the document is being
// deleted, so nothing is written.
func (p *IngestionPipeline) fail(ctx context.Context, doc *domain.Document, stage domain.DocumentStatus, cause error) error {
	var reason string
	switch {
	case errors.Is(cause, context.DeadlineExceeded):
		cause = domain.ErrIngestionTimeout.Wrap(cause)
		reason = "timeout"
	case errors.Is(cause, context.Canceled):
		ctxzap.Info(ctx, "ingestion cancelled")
		return cause
	default:
		reason = failureReason(cause)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.repo.UpdateStatus(writeCtx, doc.ID, domain.DocumentStatusFailed, reason); err != nil &&
		!domain.HasCode(err, domain.ErrCodeNotFound) {
		ctxzap.Error(ctx, "failed to record ingestion failure", zap.Error(err))
	}
	p.emit(ctx, doc.ID, domain.DocumentStatusFailed, domain.StagePercent(stage), reason)
	return cause
}

func failureReason(err error) string {
	msg := domain.MessageOf(err)
	var de *domain.DomainError
	if errors.As(err, &de) && de.Err != nil {
		msg += ": " + de.Err.Error()
	}
	return msg
}

func (p *IngestionPipeline) emit(ctx context.Context, id string, stage domain.DocumentStatus, percent int, msg string) {
	p.observer.OnProgress(ctx, domain.ProgressEvent{
		DocumentID: id,
		Stage:      stage,
		Percent:    percent,
		Message:    msg,
		Time:       p.now().UTC(),
	})
}

func (p *IngestionPipeline) track(id string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs[id] = cancel
}

func (p *IngestionPipeline) untrack(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.runs, id)
}

// IsActive reports whether a run for the document is in flight.
func (p *IngestionPipeline) IsActive(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.runs[id]
	return ok
}

// Cancel stops the in-flight run of a document, if any.
func (p *IngestionPipeline) Cancel(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.runs[id]; ok {
		cancel()
	}
}

// CancelAll stops every in-flight run.
func (p *IngestionPipeline) CancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.runs {
		cancel()
	}
}

// Locked runs fn while holding the document's ingestion lock.
func (p *IngestionPipeline) Locked(ctx context.Context, id string, fn func() error) error {
	if err := p.locks.Lock(ctx, id); err != nil {
		return err
	}
	defer p.locks.Unlock(id)
	return fn()
}

// Exclusive runs fn while no admission or run is in progress.
func (p *IngestionPipeline) Exclusive(ctx context.Context, fn func() error) error {
	p.gate.Lock()
	defer p.gate.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

// Shutdown cancels running ingestions and waits for them to stop.
func (p *IngestionPipeline) Shutdown(ctx context.Context) error {
	p.CancelAll()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

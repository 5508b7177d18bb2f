package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/cloo-solutions/lightrag/internal/extract"
	"github.com/cloo-solutions/lightrag/internal/index"
	"github.com/cloo-solutions/lightrag/internal/repository"
	"github.com/cloo-solutions/lightrag/internal/storage"
	"github.com/cloo-solutions/lightrag/internal/testutil"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type harness struct {
	repo      *repository.MemoryDocumentRepository
	index     *index.Memory
	blobs     *storage.LocalStore
	extractor *countingExtractor
	provider  *letterProvider
	gateway   *EmbeddingGateway
	observer  *recordingObserver
	pipeline  *IngestionPipeline
	docs      *DocumentService
	registry  *ProviderRegistry
	engine    *QueryEngine
}

type harnessOption func(*harness)

func withMonitor(m ResourceMonitor) harnessOption {
	return func(h *harness) { h.pipeline.monitor = m }
}

func newHarness(t *testing.T, cfg IngestionConfig, opts ...harnessOption) *harness {
	t.Helper()

	blobs, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	chunker, err := NewChunker(ChunkConfig{MaxChars: 120, MinChars: 20, Overlap: 10})
	require.NoError(t, err)

	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 1 << 20
	}
	if cfg.ResourceRetry == nil {
		cfg.ResourceRetry = fastRetry()
	}

	h := &harness{
		repo:      repository.NewMemoryDocumentRepository(),
		index:     index.NewMemory(),
		blobs:     blobs,
		extractor: &countingExtractor{TextExtractor: extract.New()},
		provider:  &letterProvider{},
		observer:  &recordingObserver{},
		registry:  NewProviderRegistry(),
	}
	h.gateway = NewEmbeddingGateway(h.provider, EmbeddingConfig{BatchSize: 4, Retry: fastRetry()})
	h.pipeline = NewIngestionPipeline(h.repo, h.blobs, h.extractor, chunker, h.gateway, h.index, nil, h.observer, cfg)
	for _, opt := range opts {
		opt(h)
	}
	h.docs = NewDocumentService(h.repo, h.index, h.blobs, h.pipeline)
	h.engine = NewQueryEngine(h.repo, h.index, h.gateway, h.registry, NewPromptBuilder(nil, 0), 3)

	t.Cleanup(func() { _ = h.pipeline.Shutdown(context.Background()) })
	return h
}

func (h *harness) ingest(t *testing.T, name, content string) *domain.Document {
	t.Helper()
	doc, err := h.pipeline.Ingest(context.Background(), Upload{Filename: name, Data: []byte(content)})
	require.NoError(t, err)
	return doc
}

func longText(topic string, sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "The %s paragraph number %d talks about %s in detail. ", topic, i, topic)
	}
	return b.String()
}

func TestIngestionPipeline_ReportTransitions(t *testing.T) {
	h := newHarness(t, IngestionConfig{})

	doc := h.ingest(t, "report.txt", longText("quarterly revenue", 8))

	assert.Equal(t, "report.txt", doc.ID)
	assert.Equal(t, domain.DocumentStatusReady, doc.Status)
	assert.Positive(t, doc.ChunkCount)
	assert.Equal(t, []domain.DocumentStatus{
		domain.DocumentStatusPending,
		domain.DocumentStatusExtracting,
		domain.DocumentStatusChunking,
		domain.DocumentStatusEmbedding,
		domain.DocumentStatusIndexing,
		domain.DocumentStatusReady,
	}, h.observer.stages("report.txt"))

	n, err := h.index.CountByDocument(context.Background(), "report.txt")
	require.NoError(t, err)
	assert.Equal(t, doc.ChunkCount, n)

	rc, err := h.blobs.Get(context.Background(), doc.StorageKey)
	require.NoError(t, err)
	rc.Close()
}

func TestIngestionPipeline_PDFReport(t *testing.T) {
	h := newHarness(t, IngestionConfig{MaxPages: 5})
	ctx := context.Background()
	data := testutil.BuildPDF(longText("quarterly revenue", 4), longText("zebra migration", 4))

	doc, err := h.pipeline.Ingest(ctx, Upload{Filename: "report.pdf", Data: data})
	require.NoError(t, err)

	assert.Equal(t, domain.DocumentStatusReady, doc.Status)
	assert.Equal(t, 2, doc.Pages)
	assert.Equal(t, int64(len(data)), doc.Size)
	assert.Equal(t, []domain.DocumentStatus{
		domain.DocumentStatusPending,
		domain.DocumentStatusExtracting,
		domain.DocumentStatusChunking,
		domain.DocumentStatusEmbedding,
		domain.DocumentStatusIndexing,
		domain.DocumentStatusReady,
	}, h.observer.stages("report.pdf"))

	pages, extracts := h.extractor.counts()
	assert.Equal(t, 1, pages)
	assert.Equal(t, 1, extracts)

	docs, err := h.docs.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 2, docs[0].Pages)

	hits, err := h.engine.Retrieve(ctx, QueryInput{Text: "zebra migration", DocumentID: "report.pdf"})
	require.NoError(t, err)
	var second []string
	for _, hit := range hits {
		if hit.Page == 2 {
			second = append(second, hit.Text)
		}
	}
	require.NotEmpty(t, second, "no chunk attributed to page 2")
	for _, text := range second {
		assert.NotContains(t, text, "quarterly")
	}
}

func TestIngestionPipeline_PageLimitRejectsBeforeExtract(t *testing.T) {
	h := newHarness(t, IngestionConfig{MaxPages: 1})
	ctx := context.Background()

	_, err := h.pipeline.Ingest(ctx, Upload{Filename: "report.pdf", Data: testutil.BuildPDF("one", "two")})
	require.ErrorIs(t, err, domain.ErrPageLimitExceeded)
	assert.Contains(t, err.Error(), "2 pages exceeds limit of 1")

	pages, extracts := h.extractor.counts()
	assert.Equal(t, 1, pages)
	assert.Zero(t, extracts)
	assert.Zero(t, h.provider.Calls())
	assert.Empty(t, h.observer.stages("report.pdf"))

	_, err = h.repo.Get(ctx, "report.pdf")
	assert.True(t, domain.HasCode(err, domain.ErrCodeNotFound))

	doc, err := h.pipeline.Ingest(ctx, Upload{Filename: "report.pdf", Data: testutil.BuildPDF("only page")})
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Pages)
}

func TestIngestionPipeline_LogsRunWithActionAndFilename(t *testing.T) {
	h := newHarness(t, IngestionConfig{})
	core, logs := observer.New(zap.InfoLevel)
	ctx := ctxzap.ToContext(context.Background(), zap.New(core))

	_, err := h.pipeline.Ingest(ctx, Upload{Filename: "notes.md", Data: []byte(longText("tidal energy", 3))})
	require.NoError(t, err)

	entries := logs.FilterMessage("document ingested").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "ingest", fields["action"])
	assert.Equal(t, "notes.md", fields["filename"])
}

func TestIngestionPipeline_SanitizesFilename(t *testing.T) {
	h := newHarness(t, IngestionConfig{})

	doc := h.ingest(t, "../../my notes.txt", "some notes about things")
	assert.Equal(t, "my_notes.txt", doc.ID)
}

func TestIngestionPipeline_DuplicateUpload(t *testing.T) {
	h := newHarness(t, IngestionConfig{})
	h.ingest(t, "a.txt", "alpha beta gamma")

	_, err := h.pipeline.Ingest(context.Background(), Upload{Filename: "a.txt", Data: []byte("different")})
	assert.ErrorIs(t, err, domain.ErrDuplicateDocument)

	_, err = h.pipeline.Ingest(context.Background(), Upload{Filename: "b.txt", Data: []byte("alpha beta gamma")})
	assert.ErrorIs(t, err, domain.ErrDuplicateDocument, "same content under another name")

	docs, err := h.repo.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestIngestionPipeline_AdmissionRejectsBeforeWork(t *testing.T) {
	h := newHarness(t, IngestionConfig{MaxFileSize: 10})

	tests := []struct {
		name string
		up   Upload
		err  *domain.DomainError
	}{
		{"no filename", Upload{Data: []byte("x")}, domain.ErrNoSelectedFile},
		{"unsupported extension", Upload{Filename: "a.exe", Data: []byte("x")}, domain.ErrUnsupportedFileType},
		{"empty", Upload{Filename: "a.txt"}, domain.ErrEmptyFile},
		{"too large", Upload{Filename: "a.txt", Data: []byte(strings.Repeat("x", 11))}, domain.ErrFileTooLarge},
		{"content mismatch", Upload{Filename: "a.pdf", Data: []byte("plain")}, domain.ErrUnsupportedFileType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.pipeline.Ingest(context.Background(), tt.up)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	pages, extracts := h.extractor.counts()
	assert.Zero(t, pages)
	assert.Zero(t, extracts)
	assert.Zero(t, h.provider.Calls())
	docs, _ := h.repo.List(context.Background())
	assert.Empty(t, docs)
}

func TestIngestionPipeline_EmptyDocument(t *testing.T) {
	h := newHarness(t, IngestionConfig{})

	_, err := h.pipeline.Ingest(context.Background(), Upload{Filename: "blank.txt", Data: []byte("   \n\t  ")})
	require.ErrorIs(t, err, domain.ErrNoExtractableText)

	doc, err := h.repo.Get(context.Background(), "blank.txt")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusFailed, doc.Status)
	assert.Equal(t, domain.DocumentStatusExtracting, doc.LastStage)
	assert.NotEmpty(t, doc.FailureReason)

	_, err = h.engine.Retrieve(context.Background(), QueryInput{Text: "anything", DocumentID: "blank.txt"})
	assert.ErrorIs(t, err, domain.ErrEmptyDocument)
}

func TestIngestionPipeline_FailedDocumentCanBeReplaced(t *testing.T) {
	h := newHarness(t, IngestionConfig{})
	h.provider.failOn = "poison"
	h.provider.err = errors.New("model rejected input")

	_, err := h.pipeline.Ingest(context.Background(), Upload{Filename: "a.txt", Data: []byte("poison pill")})
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrCodeEmbeddingFailed))

	failed, err := h.repo.Get(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusFailed, failed.Status)
	assert.Equal(t, domain.DocumentStatusEmbedding, failed.LastStage)

	doc := h.ingest(t, "a.txt", "healthy content")
	assert.Equal(t, domain.DocumentStatusReady, doc.Status)
}

func TestIngestionPipeline_ResourceCheckAtAdmission(t *testing.T) {
	monitor := new(MockResourceMonitor)
	monitor.On("Check", mock.Anything).Return(domain.ErrResourceExhausted.Wrap(errors.New("low memory")))
	h := newHarness(t, IngestionConfig{}, withMonitor(monitor))

	_, err := h.pipeline.Ingest(context.Background(), Upload{Filename: "a.txt", Data: []byte("text")})
	assert.ErrorIs(t, err, domain.ErrResourceExhausted)

	_, err = h.repo.Get(context.Background(), "a.txt")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestIngestionPipeline_WaitsOutResourcePressure(t *testing.T) {
	monitor := new(MockResourceMonitor)
	monitor.On("Check", mock.Anything).Return(nil).Once()
	monitor.On("Check", mock.Anything).Return(domain.ErrResourceExhausted).Once()
	monitor.On("Check", mock.Anything).Return(nil)
	h := newHarness(t, IngestionConfig{}, withMonitor(monitor))

	doc := h.ingest(t, "a.txt", "text that will be indexed")
	assert.Equal(t, domain.DocumentStatusReady, doc.Status)
	monitor.AssertNumberOfCalls(t, "Check", 3)
}

func TestIngestionPipeline_Timeout(t *testing.T) {
	h := newHarness(t, IngestionConfig{Timeout: 20 * time.Millisecond})
	h.provider.block = make(chan struct{})

	_, err := h.pipeline.Ingest(context.Background(), Upload{Filename: "slow.txt", Data: []byte("slow text")})
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrCodeTimeout))

	doc, err := h.repo.Get(context.Background(), "slow.txt")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusFailed, doc.Status)
	assert.Equal(t, "timeout", doc.FailureReason)
}

func TestIngestionPipeline_ConcurrentDocumentsAreIsolated(t *testing.T) {
	h := newHarness(t, IngestionConfig{})
	h.provider.failOn = "broken"
	h.provider.err = errors.New("bad input")

	topics := []string{"apples", "rivers", "engines", "broken", "poetry"}
	var wg sync.WaitGroup
	errs := make([]error, len(topics))
	for i, topic := range topics {
		wg.Add(1)
		go func(i int, topic string) {
			defer wg.Done()
			_, errs[i] = h.pipeline.Ingest(context.Background(), Upload{
				Filename: topic + ".txt",
				Data:     []byte(longText(topic, 4)),
			})
		}(i, topic)
	}
	wg.Wait()

	for i, topic := range topics {
		doc, err := h.repo.Get(context.Background(), topic+".txt")
		require.NoError(t, err)
		if topic == "broken" {
			assert.Error(t, errs[i])
			assert.Equal(t, domain.DocumentStatusFailed, doc.Status)
			continue
		}
		require.NoError(t, errs[i], topic)
		assert.Equal(t, domain.DocumentStatusReady, doc.Status, topic)

		n, err := h.index.CountByDocument(context.Background(), doc.ID)
		require.NoError(t, err)
		assert.Equal(t, doc.ChunkCount, n, topic)
	}

	n, err := h.index.CountByDocument(context.Background(), "broken.txt")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIngestionPipeline_IngestAsyncAndResume(t *testing.T) {
	h := newHarness(t, IngestionConfig{})

	doc, err := h.pipeline.IngestAsync(context.Background(), Upload{Filename: "bg.txt", Data: []byte("background text")})
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusPending, doc.Status)

	require.Eventually(t, func() bool {
		d, err := h.repo.Get(context.Background(), "bg.txt")
		return err == nil && d.Status == domain.DocumentStatusReady
	}, 2*time.Second, 5*time.Millisecond)

	// Resume reads the source back from the blob store.
	require.NoError(t, h.repo.UpdateStatus(context.Background(), "bg.txt", domain.DocumentStatusEmbedding, ""))
	stored, err := h.repo.Get(context.Background(), "bg.txt")
	require.NoError(t, err)
	require.NoError(t, h.pipeline.Resume(context.Background(), stored))

	require.Eventually(t, func() bool {
		d, err := h.repo.Get(context.Background(), "bg.txt")
		return err == nil && d.Status == domain.DocumentStatusReady && !h.pipeline.IsActive("bg.txt")
	}, 2*time.Second, 5*time.Millisecond)

	n, err := h.index.CountByDocument(context.Background(), "bg.txt")
	require.NoError(t, err)
	assert.Equal(t, stored.ChunkCount, n, "resume replaces vectors instead of duplicating them")
}

func TestIngestionPipeline_CancelledCallerDoesNotAbortRun(t *testing.T) {
	h := newHarness(t, IngestionConfig{})
	h.provider.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.pipeline.Ingest(ctx, Upload{Filename: "a.txt", Data: []byte("patient text")})
		done <- err
	}()

	require.Eventually(t, func() bool { return h.pipeline.IsActive("a.txt") }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(h.provider.block)
	require.Eventually(t, func() bool {
		d, err := h.repo.Get(context.Background(), "a.txt")
		return err == nil && d.Status == domain.DocumentStatusReady
	}, 2*time.Second, 5*time.Millisecond)
}

func TestIngestionPipeline_ShutdownCancelsRuns(t *testing.T) {
	h := newHarness(t, IngestionConfig{})
	h.provider.block = make(chan struct{})

	_, err := h.pipeline.IngestAsync(context.Background(), Upload{Filename: "a.txt", Data: []byte("text")})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.pipeline.IsActive("a.txt") }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.pipeline.Shutdown(ctx))
	assert.False(t, h.pipeline.IsActive("a.txt"))
}

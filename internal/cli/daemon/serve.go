// Package daemon holds the commands of the lightragd server binary.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/lightrag/internal/api/handlers"
	"github.com/cloo-solutions/lightrag/internal/config"
	"github.com/cloo-solutions/lightrag/internal/database"
	"github.com/cloo-solutions/lightrag/internal/extract"
	"github.com/cloo-solutions/lightrag/internal/health"
	"github.com/cloo-solutions/lightrag/internal/index"
	"github.com/cloo-solutions/lightrag/internal/jobs"
	"github.com/cloo-solutions/lightrag/internal/logger"
	"github.com/cloo-solutions/lightrag/internal/ollama"
	"github.com/cloo-solutions/lightrag/internal/openai"
	"github.com/cloo-solutions/lightrag/internal/repository"
	"github.com/cloo-solutions/lightrag/internal/server"
	"github.com/cloo-solutions/lightrag/internal/service"
	"github.com/cloo-solutions/lightrag/internal/storage"
	"github.com/cloo-solutions/lightrag/internal/telemetry"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	shutdownTimeout  = 30 * time.Second
	recoveryInterval = time.Minute
	// A working document untouched for this long has lost its run.
	staleIngestion = 15 * time.Minute
	progressTTL    = time.Hour
	jsonBodyLimit  = 1 << 20
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the lightrag API server. Storage is Postgres when RAG_DATABASE_URL is set and in-memory otherwise.",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides RAG_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

// backend is the document store and vector index the server runs on.
type backend struct {
	docs  service.DocumentRepository
	index service.VectorIndex
	// memory is set when the index lives in process and needs compaction.
	memory *index.Memory
	close  func()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	log, err := logger.New(cfg.LogLevel, cfg.Debug)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	sampleRate := 0.1
	if cfg.Environment == "development" {
		sampleRate = 1.0
	}
	shutdownTelemetry, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
		Logger:           log,
	})
	if err != nil {
		log.Warn("telemetry init failed, continuing without tracing", zap.Error(err))
	} else {
		defer shutdownTelemetry()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = ctxzap.ToContext(ctx, log)

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	be, err := openBackend(ctx, cfg, noMigrate, log)
	if err != nil {
		return err
	}
	defer be.close()

	blobs, err := openBlobStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	registry, embedProvider, err := buildProviders(ctx, cfg, log)
	if err != nil {
		return err
	}

	gateway := service.NewEmbeddingGateway(embedProvider, service.EmbeddingConfig{
		BatchSize:      cfg.EmbeddingBatchSize,
		QueryPrefix:    cfg.EmbeddingQueryPrefix,
		DocumentPrefix: cfg.EmbeddingDocumentPrefix,
	})

	chunker, err := service.NewChunker(service.ChunkConfig{
		MaxChars: cfg.ChunkSize,
		MinChars: cfg.ChunkMinSize,
		Overlap:  cfg.ChunkOverlap,
	})
	if err != nil {
		return fmt.Errorf("invalid chunking config: %w", err)
	}

	monitor := health.NewMonitor(cfg.UploadDir, health.Thresholds{
		MinFreeMemoryMB: cfg.MinFreeMemoryMB,
		MinFreeDiskMB:   cfg.MinFreeDiskMB,
		MaxCPUPercent:   cfg.MaxCPUPercent,
	}, 200*time.Millisecond)

	tracker := service.NewProgressTracker(progressTTL)
	pipeline := service.NewIngestionPipeline(
		be.docs, blobs, extract.New(), chunker, gateway, be.index, monitor,
		service.MultiObserver{tracker, service.LogObserver{}},
		service.IngestionConfig{
			MaxFileSize: cfg.MaxFileSize,
			MaxPages:    cfg.MaxPages,
			Timeout:     cfg.IngestTimeout,
		},
	)

	prompts := service.NewPromptBuilder(service.NewTiktokenCounter(cfg.OpenAIChatModel), cfg.ContextTokenBudget)
	engine := service.NewQueryEngine(be.docs, be.index, gateway, registry, prompts, cfg.TopK)
	documents := service.NewDocumentService(be.docs, be.index, blobs, pipeline)

	router := server.NewRouter(server.RouterConfig{
		Logger:          log,
		APIToken:        cfg.APIToken,
		MaxUploadBytes:  cfg.MaxFileSize + jsonBodyLimit,
		DocumentHandler: handlers.NewDocumentHandler(documents, tracker),
		UploadHandler:   handlers.NewUploadHandler(pipeline),
		QueryHandler:    handlers.NewQueryHandler(engine),
		ModelHandler:    handlers.NewModelHandler(registry),
		HealthHandler:   handlers.NewHealthHandler(monitor),
	})

	workers := []*jobs.Worker{
		jobs.NewWorker("recovery", jobs.NewRecoveryWorker(be.docs, pipeline, staleIngestion, log), recoveryInterval, log),
	}
	if be.memory != nil && cfg.CompactionInterval > 0 {
		workers = append(workers, jobs.NewWorker("compaction", jobs.NewCompactionJob(be.memory, log), cfg.CompactionInterval, log))
	}
	for _, w := range workers {
		go w.Start(ctx)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("port", cfg.Port), zap.String("provider", registry.Current()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down")

	for _, w := range workers {
		w.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		log.Warn("ingestion runs did not stop in time", zap.Error(err))
	}

	log.Info("server exited")
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config, noMigrate bool, log *zap.Logger) (*backend, error) {
	if !cfg.HasDatabase() {
		mem := index.NewMemory()
		log.Info("using in-memory document store and index")
		return &backend{
			docs:   repository.NewMemoryDocumentRepository(),
			index:  mem,
			memory: mem,
			close:  func() {},
		}, nil
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns})
	if err != nil {
		return nil, err
	}
	log.Info("connected to database")

	if !noMigrate {
		if _, err := database.Migrate(ctx, cfg.DatabaseURL); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &backend{
		docs:  repository.NewDocumentRepository(pool),
		index: repository.NewChunkIndex(pool),
		close: pool.Close,
	}, nil
}

func openBlobStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (service.BlobStore, error) {
	if !cfg.HasS3() {
		store, err := storage.NewLocalStore(cfg.UploadDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open upload directory: %w", err)
		}
		log.Info("storing uploads on disk", zap.String("dir", cfg.UploadDir))
		return store, nil
	}

	client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
	}
	log.Info("S3 bucket ready", zap.String("bucket", cfg.S3Bucket))
	return client, nil
}

// buildProviders registers the generation providers and picks the
// embedding provider. Ollama is always registered; OpenAI only with a key.
func buildProviders(ctx context.Context, cfg *config.Config, log *zap.Logger) (*service.ProviderRegistry, service.EmbeddingProvider, error) {
	registry := service.NewProviderRegistry()

	ollamaClient := ollama.NewClient(ollama.Config{
		BaseURL:        cfg.OllamaURL,
		ChatModel:      cfg.OllamaModel,
		EmbeddingModel: cfg.OllamaEmbeddingModel,
	})
	registry.Register(ollamaClient)

	var openaiClient *openai.Client
	if c, err := openai.NewClient(openai.Config{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		ChatModel:      cfg.OpenAIChatModel,
		EmbeddingModel: cfg.OpenAIEmbeddingModel,
	}); err != nil {
		log.Info("openai provider unavailable", zap.Error(err))
		registry.RegisterUnavailable(openai.Name, err)
	} else {
		openaiClient = c
		registry.Register(c)
	}

	if err := registry.Set(cfg.DefaultProvider); err != nil {
		msg := fmt.Sprintf("default provider %s unavailable, using %s", cfg.DefaultProvider, registry.Current())
		log.Warn(msg, zap.Error(err))
		telemetry.CaptureMessage(ctx, msg)
	}

	if cfg.EmbeddingProvider == openai.Name {
		if openaiClient == nil {
			return nil, nil, fmt.Errorf("embedding provider openai requires RAG_OPENAI_API_KEY")
		}
		return registry, openaiClient, nil
	}
	return registry, ollamaClient, nil
}

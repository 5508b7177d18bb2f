package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name. Variables whose tag is set
// explicitly are also read without the prefix, so OPENAI_API_KEY and
// OLLAMA_MODEL work as-is.
const Prefix = "RAG"

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`

	// APIToken enables bearer token auth on every route when set.
	APIToken string `envconfig:"API_TOKEN"`

	// DatabaseURL selects Postgres storage; empty means in-memory.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`

	UploadDir   string `envconfig:"UPLOAD_DIR" default:"uploads"`
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"lightrag-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	DefaultProvider   string `envconfig:"DEFAULT_PROVIDER" default:"ollama"`
	EmbeddingProvider string `envconfig:"EMBEDDING_PROVIDER" default:"ollama"`

	OpenAIAPIKey         string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL        string `envconfig:"OPENAI_BASE_URL"`
	OpenAIChatModel      string `envconfig:"OPENAI_CHAT_MODEL" default:"gpt-3.5-turbo"`
	OpenAIEmbeddingModel string `envconfig:"OPENAI_EMBEDDING_MODEL" default:"text-embedding-3-small"`

	OllamaURL            string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	OllamaModel          string `envconfig:"OLLAMA_MODEL" default:"llama3"`
	OllamaEmbeddingModel string `envconfig:"OLLAMA_EMBEDDING_MODEL" default:"nomic-embed-text"`

	// Zero selects the provider's own batch size.
	EmbeddingBatchSize      int    `envconfig:"EMBEDDING_BATCH_SIZE" default:"0"`
	EmbeddingQueryPrefix    string `envconfig:"EMBEDDING_QUERY_PREFIX"`
	EmbeddingDocumentPrefix string `envconfig:"EMBEDDING_DOCUMENT_PREFIX"`

	ChunkSize    int `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"100"`
	ChunkMinSize int `envconfig:"CHUNK_MIN_SIZE" default:"200"`

	TopK               int `envconfig:"TOP_K" default:"4"`
	ContextTokenBudget int `envconfig:"CONTEXT_TOKEN_BUDGET" default:"3000"`

	MaxFileSize   int64         `envconfig:"MAX_FILE_SIZE" default:"52428800"`
	MaxPages      int           `envconfig:"MAX_PAGES" default:"2000"`
	IngestTimeout time.Duration `envconfig:"INGEST_TIMEOUT" default:"10m"`

	// Resource floors checked before ingestion. Zero disables a check.
	MinFreeMemoryMB uint64  `envconfig:"MIN_FREE_MEMORY_MB" default:"2048"`
	MinFreeDiskMB   uint64  `envconfig:"MIN_FREE_DISK_MB" default:"1024"`
	MaxCPUPercent   float64 `envconfig:"MAX_CPU_PERCENT" default:"90"`

	CompactionInterval time.Duration `envconfig:"COMPACTION_INTERVAL" default:"5m"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.ChunkSize <= 0:
		return fmt.Errorf("invalid config: CHUNK_SIZE must be positive")
	case c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize:
		return fmt.Errorf("invalid config: CHUNK_OVERLAP must be in [0, CHUNK_SIZE)")
	case c.ChunkMinSize < 0 || c.ChunkMinSize >= c.ChunkSize:
		return fmt.Errorf("invalid config: CHUNK_MIN_SIZE must be in [0, CHUNK_SIZE)")
	case c.TopK <= 0:
		return fmt.Errorf("invalid config: TOP_K must be positive")
	case c.MaxFileSize <= 0:
		return fmt.Errorf("invalid config: MAX_FILE_SIZE must be positive")
	case c.IngestTimeout <= 0:
		return fmt.Errorf("invalid config: INGEST_TIMEOUT must be positive")
	case !isProvider(c.DefaultProvider):
		return fmt.Errorf("invalid config: unknown DEFAULT_PROVIDER %q", c.DefaultProvider)
	case !isProvider(c.EmbeddingProvider):
		return fmt.Errorf("invalid config: unknown EMBEDDING_PROVIDER %q", c.EmbeddingProvider)
	case c.EmbeddingProvider == "openai" && !c.HasOpenAI():
		return fmt.Errorf("invalid config: EMBEDDING_PROVIDER=openai requires OPENAI_API_KEY")
	}
	return nil
}

func isProvider(name string) bool {
	return name == "ollama" || name == "openai"
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

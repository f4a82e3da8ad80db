package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"docsync"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"docsync"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	// Remote file store (Graph-style drive API)
	GraphBaseURL        string  `envconfig:"GRAPH_BASE_URL" default:"https://graph.microsoft.com/v1.0"`
	GraphTimeoutSeconds int     `envconfig:"GRAPH_TIMEOUT_SECONDS" default:"60"`
	GraphMaxAttempts    int     `envconfig:"GRAPH_MAX_ATTEMPTS" default:"5"`
	GraphRequestsPerSec float64 `envconfig:"GRAPH_REQUESTS_PER_SEC" default:"10"`

	// Docling conversion service for office formats (pdf, docx, xlsx, pptx)
	DoclingURL string `envconfig:"DOCLING_URL" default:"http://docling:8000"`

	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`

	ChunkTargetTokens  int `envconfig:"CHUNK_TARGET_TOKENS" default:"1000"`
	ChunkOverlapTokens int `envconfig:"CHUNK_OVERLAP_TOKENS" default:"100"`

	IngestionConcurrency int   `envconfig:"INGESTION_CONCURRENCY" default:"8"`
	MaxFileSizeMB        int64 `envconfig:"MAX_FILE_SIZE_MB" default:"50"`

	// Webhook subscriptions
	NotificationBaseURL   string `envconfig:"NOTIFICATION_BASE_URL" default:"http://localhost:8081"`
	SubscriptionSecret    string `envconfig:"SUBSCRIPTION_SECRET" default:"docsync-client-state"`
	SubscriptionLifeHours int    `envconfig:"SUBSCRIPTION_LIFE_HOURS" default:"4230"`
	RenewalCronSpec       string `envconfig:"RENEWAL_CRON_SPEC" default:"0 * * * *"`
	RenewalLeadHours      int    `envconfig:"RENEWAL_LEAD_HOURS" default:"48"`

	ServerPort    int    `envconfig:"SERVER_PORT" default:"8081"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may also be set in the shell, so .env load errors are ignored
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.IngestionConcurrency < 1 {
		return fmt.Errorf("%w: INGESTION_CONCURRENCY must be >= 1", ErrMissingRequired)
	}
	if c.ChunkOverlapTokens >= c.ChunkTargetTokens {
		return fmt.Errorf("%w: CHUNK_OVERLAP_TOKENS must be smaller than CHUNK_TARGET_TOKENS", ErrMissingRequired)
	}
	return nil
}

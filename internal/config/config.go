package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

const (
	BackendMemory   = "memory"
	BackendWeaviate = "weaviate"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"corpora"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"corpora"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Vector store
	VectorBackend  string `envconfig:"VECTOR_BACKEND" default:"memory"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	WeaviateClass  string `envconfig:"WEAVIATE_CLASS" default:"DocumentUnit"`

	// Models
	Provider        string `envconfig:"PROVIDER" default:"gemini"`
	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel  string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	GenerationModel string `envconfig:"GENERATION_MODEL" default:"gemini-2.0-flash"`
	LocalDimensions int    `envconfig:"LOCAL_EMBEDDING_DIMS" default:"256"`

	// Retrieval & reduction
	SimilarityThreshold float32 `envconfig:"SIMILARITY_THRESHOLD" default:"0.3"`
	SearchTopK          int     `envconfig:"SEARCH_TOP_K" default:"10"`
	ContextWindow       int     `envconfig:"CONTEXT_WINDOW" default:"8192"`
	MaxReducePasses     int     `envconfig:"MAX_REDUCE_PASSES" default:"8"`
	ReduceConcurrency   int     `envconfig:"REDUCE_CONCURRENCY" default:"4"`

	// Indexing
	IndexBatchSize    int  `envconfig:"INDEX_BATCH_SIZE" default:"100"`
	EnableIndexWorker bool `envconfig:"ENABLE_INDEX_WORKER" default:"false"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	// Upper bound on an uploaded snapshot, in bytes.
	SnapshotMaxBytes int64 `envconfig:"SNAPSHOT_MAX_BYTES" default:"1073741824"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
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
	switch c.VectorBackend {
	case BackendMemory, BackendWeaviate:
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND %q", ErrInvalid, c.VectorBackend)
	}
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: SIMILARITY_THRESHOLD must be within [-1, 1]", ErrInvalid)
	}
	if c.SearchTopK <= 0 {
		return fmt.Errorf("%w: SEARCH_TOP_K must be positive", ErrInvalid)
	}
	if c.IndexBatchSize <= 0 {
		return fmt.Errorf("%w: INDEX_BATCH_SIZE must be positive", ErrInvalid)
	}
	if c.ContextWindow <= 0 {
		return fmt.Errorf("%w: CONTEXT_WINDOW must be positive", ErrInvalid)
	}
	if c.MaxReducePasses <= 0 {
		return fmt.Errorf("%w: MAX_REDUCE_PASSES must be positive", ErrInvalid)
	}
	if c.SnapshotMaxBytes <= 0 {
		return fmt.Errorf("%w: SNAPSHOT_MAX_BYTES must be positive", ErrInvalid)
	}
	return nil
}

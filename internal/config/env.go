package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port        string
	CorsOrigins []string

	DatabaseURL string
	SslCertPath string

	StorageBackend string // local | s3
	UploadDir      string
	AwsAccessKey   string
	AwsSecretKey   string
	AwsRegion      string
	BucketName     string

	VectorBackend    string // pgvector | qdrant
	VectorCollection string
	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	EmbedDim         int

	SearchURL      string
	SearchIndex    string
	SearchUsername string
	SearchPassword string

	LLMProvider string // ollama | gemini
	OllamaURL   string
	AIAPIKey    string
	GenModel    string
	EmbedModel  string

	ChunkSize     int
	ChunkOverlap  int
	BatchSize     int
	IngestWorkers int
	IngestQueue   int

	StorageTimeout    time.Duration
	VectorTimeout     time.Duration
	SearchTimeout     time.Duration
	GenerationTimeout time.Duration
	ProcessTimeout    time.Duration
	HealthTimeout     time.Duration

	LogLevel  string
	LogPretty bool
	LogCaller bool
}

// LoadConfig loads the environment variables (and .env if present) and returns a validated config.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		CorsOrigins: getEnvList("CORS_ORIGINS", []string{"http://localhost:5173"}),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		SslCertPath: getEnv("SSL_CERT_PATH", ""),

		StorageBackend: getEnv("STORAGE_BACKEND", "local"),
		UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
		AwsAccessKey:   getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:   getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:      getEnv("AWS_REGION", "us-east-2"),
		BucketName:     getEnv("BUCKET_NAME", "dossier-docs"),

		VectorBackend:    getEnv("VECTOR_BACKEND", "pgvector"),
		VectorCollection: getEnv("VECTOR_COLLECTION", "documents"),
		QdrantHost:       getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:       getEnvInt("QDRANT_PORT", 6334),
		QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
		EmbedDim:         getEnvInt("EMBED_DIM", 768),

		SearchURL:      getEnv("SEARCH_URL", "http://localhost:9200"),
		SearchIndex:    getEnv("SEARCH_INDEX", "documents"),
		SearchUsername: getEnv("SEARCH_USERNAME", ""),
		SearchPassword: getEnv("SEARCH_PASSWORD", ""),

		LLMProvider: getEnv("LLM_PROVIDER", "ollama"),
		OllamaURL:   getEnv("OLLAMA_URL", "http://localhost:11434"),
		AIAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GenModel:    getEnv("GEN_MODEL", "llama3.1:8b"),
		EmbedModel:  getEnv("EMBED_MODEL", "nomic-embed-text"),

		ChunkSize:     getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:  getEnvInt("CHUNK_OVERLAP", 200),
		BatchSize:     getEnvInt("BATCH_SIZE", 32),
		IngestWorkers: getEnvInt("INGEST_WORKERS", 2),
		IngestQueue:   getEnvInt("INGEST_QUEUE_SIZE", 64),

		StorageTimeout:    getEnvDuration("STORAGE_TIMEOUT", 2*time.Minute),
		VectorTimeout:     getEnvDuration("VECTOR_TIMEOUT", 2*time.Minute),
		SearchTimeout:     getEnvDuration("SEARCH_TIMEOUT", time.Minute),
		GenerationTimeout: getEnvDuration("GENERATION_TIMEOUT", 10*time.Minute),
		ProcessTimeout:    getEnvDuration("PROCESS_TIMEOUT", 30*time.Minute),
		HealthTimeout:     getEnvDuration("HEALTH_TIMEOUT", 5*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", false),
		LogCaller: getEnvBool("LOG_CALLER", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and backend choices.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL not set")
	}
	switch c.StorageBackend {
	case "local", "s3":
	default:
		return fmt.Errorf("STORAGE_BACKEND must be local or s3, got %q", c.StorageBackend)
	}
	switch c.VectorBackend {
	case "pgvector", "qdrant":
	default:
		return fmt.Errorf("VECTOR_BACKEND must be pgvector or qdrant, got %q", c.VectorBackend)
	}
	switch c.LLMProvider {
	case "ollama", "gemini":
	default:
		return fmt.Errorf("LLM_PROVIDER must be ollama or gemini, got %q", c.LLMProvider)
	}
	if c.ChunkOverlap < 0 || c.ChunkSize <= c.ChunkOverlap {
		return fmt.Errorf("CHUNK_SIZE (%d) must be greater than CHUNK_OVERLAP (%d) >= 0", c.ChunkSize, c.ChunkOverlap)
	}
	if c.BatchSize <= 0 || c.IngestWorkers <= 0 || c.IngestQueue <= 0 {
		return fmt.Errorf("BATCH_SIZE, INGEST_WORKERS and INGEST_QUEUE_SIZE must be positive")
	}
	return nil
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Int("default", def).Msg("not an int, using default")
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Bool("default", def).Msg("not a bool, using default")
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Dur("default", def).Msg("not a duration, using default")
		return def
	}
	return d
}

func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

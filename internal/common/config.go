package common

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Storage  StorageConfig
	OCR      OCRConfig
	LLM      LLMConfig
	Pipeline PipelineConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string `validate:"oneof=postgres sqlite"`
	DSN              string `validate:"required"`
	MaxConns         int32  `validate:"gte=1"`
	MinConns         int32  `validate:"gte=0"`
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds daemon-related configuration
type ServerConfig struct {
	GRPCAddr     string        `validate:"required"`
	MetricsAddr  string        `validate:"required"`
	PollInterval time.Duration `validate:"gt=0"`
	PollBatch    int           `validate:"gte=1"`
	WatchDir     string
}

// StorageConfig holds object store configuration
type StorageConfig struct {
	Root     string `validate:"required"`
	Timeout  time.Duration
	TenantID string `validate:"required"`
	ScopeID  string
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Mode        string `validate:"oneof=http local"`
	URL         string `validate:"required_if=Mode http"`
	APIKey      string
	Pdftoppm    string
	Tesseract   string
	Language    string
	TessdataDir string
	DPI         int           `validate:"gte=72"`
	BatchSize   int           `validate:"gte=1"`
	PageLimit   int           `validate:"gte=1"`
	Timeout     time.Duration `validate:"gt=0"`
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	BaseURL        string
	Model          string `validate:"required"`
	APIKey         string `validate:"required"`
	Temperature    float32
	MaxTokens      int
	Timeout        time.Duration `validate:"gt=0"`
	RequestsPerSec float64       `validate:"gte=0"`
}

// PipelineConfig holds stage thresholds and concurrency.
type PipelineConfig struct {
	Concurrency        int     `validate:"gte=1"`
	TargetLevel        int     `validate:"gte=1,lte=4"`
	QualityThreshold   int     `validate:"gte=0,lte=100"`
	ClassificationMin  float64 `validate:"gte=0,lte=1"`
	ClassifierMaxRunes int     `validate:"gte=0"`
	ChunkSize          int     `validate:"gt=0"`
	ChunkOverlap       int     `validate:"gte=0,ltfield=ChunkSize"`
	ChunkStrategy      string  `validate:"oneof=fixed-size semantic paragraph section"`
	CharsPerPage       int     `validate:"gt=0"`
	RetryAttempts      int     `validate:"gte=1,lte=10"`
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	PromptCacheTTL     time.Duration
	ProcessTimeout     time.Duration `validate:"gt=0"`
	StageLease         time.Duration `validate:"gtfield=ProcessTimeout"`
	TokenEncoding      string
}

// LoadConfig loads configuration from environment variables. A .env file in the
// working directory is read first when present; real environment values win.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "postgres"),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			GRPCAddr:     getEnv("GRPC_ADDR", ":8080"),
			MetricsAddr:  getEnv("METRICS_ADDR", ":9090"),
			PollInterval: getEnvAsDuration("POLL_INTERVAL", 15*time.Second),
			PollBatch:    getEnvAsInt("POLL_BATCH", 50),
			WatchDir:     getEnv("WATCH_DIR", ""),
		},
		Storage: StorageConfig{
			Root:     getEnv("STORAGE_ROOT", "./data"),
			Timeout:  getEnvAsDuration("STORAGE_TIMEOUT", 30*time.Second),
			TenantID: getEnv("TENANT_ID", "default"),
			ScopeID:  getEnv("SCOPE_ID", ""),
		},
		OCR: OCRConfig{
			Mode:        getEnv("OCR_MODE", "local"),
			URL:         getEnv("OCR_URL", ""),
			APIKey:      getEnv("OCR_API_KEY", ""),
			Pdftoppm:    getEnv("OCR_PDFTOPPM", "pdftoppm"),
			Tesseract:   getEnv("OCR_TESSERACT", "tesseract"),
			Language:    getEnv("OCR_LANG", "spa+eng"),
			TessdataDir: getEnv("TESSDATA_PREFIX", ""),
			DPI:         getEnvAsInt("OCR_DPI", 300),
			BatchSize:   getEnvAsInt("OCR_BATCH_SIZE", 5),
			PageLimit:   getEnvAsInt("OCR_PAGE_LIMIT", 500),
			Timeout:     getEnvAsDuration("OCR_TIMEOUT", 2*time.Minute),
		},
		LLM: LLMConfig{
			BaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			Temperature:    getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			MaxTokens:      getEnvAsInt("OPENAI_MAX_TOKENS", 2048),
			Timeout:        getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
			RequestsPerSec: getEnvAsFloat64("OPENAI_RPS", 2),
		},
		Pipeline: PipelineConfig{
			Concurrency:        getEnvAsInt("PIPELINE_CONCURRENCY", 4),
			TargetLevel:        getEnvAsInt("PIPELINE_TARGET_LEVEL", 4),
			QualityThreshold:   getEnvAsInt("QUALITY_THRESHOLD", 70),
			ClassificationMin:  getEnvAsFloat64("CLASSIFICATION_MIN_CONFIDENCE", 0.5),
			ClassifierMaxRunes: getEnvAsInt("CLASSIFIER_MAX_RUNES", 12000),
			ChunkSize:          getEnvAsInt("CHUNK_SIZE", 800),
			ChunkOverlap:       getEnvAsInt("CHUNK_OVERLAP", 0),
			ChunkStrategy:      getEnv("CHUNK_STRATEGY", "fixed-size"),
			CharsPerPage:       getEnvAsInt("CHARS_PER_PAGE", 2000),
			TokenEncoding:      getEnv("CHUNK_TOKEN_ENCODING", ""),
			RetryAttempts:      getEnvAsInt("RETRY_ATTEMPTS", 3),
			RetryBaseDelay:     getEnvAsDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
			RetryMaxDelay:      getEnvAsDuration("RETRY_MAX_DELAY", 8*time.Second),
			PromptCacheTTL:     getEnvAsDuration("PROMPT_CACHE_TTL", time.Minute),
			ProcessTimeout:     getEnvAsDuration("PROCESS_TIMEOUT", 15*time.Minute),
			StageLease:         getEnvAsDuration("STAGE_LEASE", 20*time.Minute),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks the loaded configuration. needLLM is false for commands that
// never reach the classification or metadata stages (migrate, export, status).
func (c *Config) Validate(needLLM bool) error {
	targets := []any{&c.Database, &c.Storage, &c.Pipeline}
	if needLLM {
		targets = append(targets, &c.OCR, &c.LLM)
	}
	for _, t := range targets {
		if err := ValidateStruct(t); err != nil {
			return NewAppError(CodeConfig, "invalid configuration", err)
		}
	}
	return nil
}

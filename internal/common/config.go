package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Log       LogConfig
	Database  DatabaseConfig
	Templates TemplatesConfig
	Extract   ExtractConfig
	Pipeline  PipelineConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug | info | warn | error
	Format string // text | json
}

// DatabaseConfig holds storage configuration. Backend selection is explicit;
// the pipeline never sniffs the environment at call time.
type DatabaseConfig struct {
	Backend          string // "sqlite" | "postgres"
	SQLitePath       string
	PostgresDSN      string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// TemplatesConfig holds the template registry configuration
type TemplatesConfig struct {
	Dir string
}

// ExtractConfig holds text extraction configuration
type ExtractConfig struct {
	Backend string // "local" | "remote"

	// Local backend: external tool paths, empty means $PATH lookup.
	Pdftotext     string
	Pdftoppm      string
	Tesseract     string
	TesseractLang string
	DPI           int
	MaxPages      int

	// Remote backend.
	RemoteEndpoint string
	RemoteAPIKey   string
	RemoteTimeout  time.Duration
}

// PipelineConfig holds pipeline thresholds and worker settings
type PipelineConfig struct {
	ConfidenceThreshold float64
	MinReliability      float64
	ExtractTimeout      time.Duration
	RetryMaxAttempts    int
	RetryInitialDelay   time.Duration
	RetryMaxDelay       time.Duration
	Workers             int
	QueueSize           int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Backend:          getEnv("DB_BACKEND", "sqlite"),
			SQLitePath:       getEnv("DB_PATH", "./data/invoices.db"),
			PostgresDSN:      getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Templates: TemplatesConfig{
			Dir: getEnv("TEMPLATES_DIR", "./config/templates"),
		},
		Extract: ExtractConfig{
			Backend:        getEnv("EXTRACT_BACKEND", "local"),
			Pdftotext:      getEnv("PDFTOTEXT_BIN", ""),
			Pdftoppm:       getEnv("PDFTOPPM_BIN", ""),
			Tesseract:      getEnv("TESSERACT_BIN", ""),
			TesseractLang:  getEnv("TESSERACT_LANG", "eng"),
			DPI:            getEnvAsInt("OCR_DPI", 300),
			MaxPages:       getEnvAsInt("OCR_MAX_PAGES", 0),
			RemoteEndpoint: getEnv("OCR_REMOTE_ENDPOINT", ""),
			RemoteAPIKey:   getEnv("OCR_REMOTE_API_KEY", ""),
			RemoteTimeout:  getEnvAsDuration("OCR_REMOTE_TIMEOUT", 45*time.Second),
		},
		Pipeline: PipelineConfig{
			ConfidenceThreshold: getEnvAsFloat64("CONFIDENCE_THRESHOLD", 0.7),
			MinReliability:      getEnvAsFloat64("MIN_OCR_RELIABILITY", 0.4),
			ExtractTimeout:      getEnvAsDuration("EXTRACT_TIMEOUT", 90*time.Second),
			RetryMaxAttempts:    getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			RetryInitialDelay:   getEnvAsDuration("RETRY_INITIAL_DELAY", 500*time.Millisecond),
			RetryMaxDelay:       getEnvAsDuration("RETRY_MAX_DELAY", 30*time.Second),
			Workers:             getEnvAsInt("PIPELINE_WORKERS", 4),
			QueueSize:           getEnvAsInt("PIPELINE_QUEUE_SIZE", 256),
		},
	}
}

// RetryPolicy builds the OCR retry policy from pipeline settings.
func (c *Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  c.Pipeline.RetryMaxAttempts,
		InitialDelay: c.Pipeline.RetryInitialDelay,
		MaxDelay:     c.Pipeline.RetryMaxDelay,
		Multiplier:   2.0,
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
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

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return NewAppError("CONFIG_ERROR", "DB_PATH is required for the sqlite backend", ErrInvalidInput)
		}
	case "postgres":
		if c.Database.PostgresDSN == "" {
			return NewAppError("CONFIG_ERROR", "DB_URL is required for the postgres backend", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "DB_BACKEND must be sqlite or postgres", ErrInvalidInput)
	}

	switch c.Extract.Backend {
	case "local":
	case "remote":
		if c.Extract.RemoteEndpoint == "" {
			return NewAppError("CONFIG_ERROR", "OCR_REMOTE_ENDPOINT is required for the remote backend", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "EXTRACT_BACKEND must be local or remote", ErrInvalidInput)
	}

	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "CONFIDENCE_THRESHOLD must be within [0,1]", ErrInvalidInput)
	}
	return nil
}

package common

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Blob     BlobConfig
	OCR      OCRConfig
	Schemas  SchemaConfig
	Backend  BackendConfig
	Worker   WorkerConfig
	Retry    RetryConfig
	Webhook  WebhookConfig
}

// DatabaseConfig holds job store configuration
type DatabaseConfig struct {
	Driver           string // "sqlite" or "postgres"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// BlobConfig holds artifact store configuration
type BlobConfig struct {
	Dir          string // filesystem root; empty selects the in-memory store
	MaxSizeBytes int64
}

// OCRConfig holds OCR configuration
type OCRConfig struct {
	Engine        string // "tesseract" or "static"
	Tesseract     string // binary name or absolute path
	TesseractLang string
	TessdataDir   string
	PSM           int
	OEM           int
}

// SchemaConfig holds schema registry configuration
type SchemaConfig struct {
	Dir string // optional directory of schema definition documents
}

// BackendConfig holds execution backend configuration
type BackendConfig struct {
	Kind string // "local", "http" or "amqp"; resolved once at startup

	// http backend
	RunnerURL string
	RunnerKey string

	// amqp backend
	AMQPURL   string
	AMQPQueue string
}

// WorkerConfig holds worker loop configuration
type WorkerConfig struct {
	Workers        int
	PollInterval   time.Duration
	ProcessTimeout time.Duration
}

// RetryConfig holds retry policy configuration
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// WebhookConfig holds callback channel configuration
type WebhookConfig struct {
	Secret string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("DB_DRIVER", "sqlite")
	viper.SetDefault("DB_DSN", "file:docpipe.db")
	viper.SetDefault("DB_MAX_CONNS", 20)
	viper.SetDefault("DB_MIN_CONNS", 5)
	viper.SetDefault("DB_MAX_CONN_LIFETIME", "30m")
	viper.SetDefault("DB_MAX_CONN_IDLE_TIME", "5m")
	viper.SetDefault("DB_DIAL_TIMEOUT", "3s")
	viper.SetDefault("DB_STATEMENT_TIMEOUT", "0s")

	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("HTTP_READ_TIMEOUT", "15s")
	viper.SetDefault("HTTP_WRITE_TIMEOUT", "30s")

	viper.SetDefault("BLOB_DIR", "./blobs")
	viper.SetDefault("BLOB_MAX_SIZE_BYTES", int64(50*1024*1024))

	viper.SetDefault("OCR_ENGINE", "tesseract")
	viper.SetDefault("TESSERACT_BIN", "tesseract")
	viper.SetDefault("TESSERACT_LANG", "eng")
	viper.SetDefault("TESSERACT_PSM", 0)
	viper.SetDefault("TESSERACT_OEM", 0)

	viper.SetDefault("SCHEMA_DIR", "")

	viper.SetDefault("EXECUTION_BACKEND", "local")
	viper.SetDefault("RUNNER_URL", "")
	viper.SetDefault("AMQP_URL", "")
	viper.SetDefault("AMQP_QUEUE", "docpipe_jobs")

	viper.SetDefault("WORKER_COUNT", 4)
	viper.SetDefault("WORKER_POLL_INTERVAL", "500ms")
	viper.SetDefault("WORKER_PROCESS_TIMEOUT", "3m")

	viper.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	viper.SetDefault("RETRY_BASE_DELAY", "1s")
	viper.SetDefault("RETRY_MAX_DELAY", "30s")

	return &Config{
		Database: DatabaseConfig{
			Driver:           viper.GetString("DB_DRIVER"),
			DSN:              viper.GetString("DB_DSN"),
			MaxConns:         viper.GetInt32("DB_MAX_CONNS"),
			MinConns:         viper.GetInt32("DB_MIN_CONNS"),
			MaxConnLifetime:  viper.GetDuration("DB_MAX_CONN_LIFETIME"),
			MaxConnIdleTime:  viper.GetDuration("DB_MAX_CONN_IDLE_TIME"),
			DialTimeout:      viper.GetDuration("DB_DIAL_TIMEOUT"),
			StatementTimeout: viper.GetDuration("DB_STATEMENT_TIMEOUT"),
		},
		Server: ServerConfig{
			Addr:         viper.GetString("HTTP_ADDR"),
			ReadTimeout:  viper.GetDuration("HTTP_READ_TIMEOUT"),
			WriteTimeout: viper.GetDuration("HTTP_WRITE_TIMEOUT"),
		},
		Blob: BlobConfig{
			Dir:          viper.GetString("BLOB_DIR"),
			MaxSizeBytes: viper.GetInt64("BLOB_MAX_SIZE_BYTES"),
		},
		OCR: OCRConfig{
			Engine:        viper.GetString("OCR_ENGINE"),
			Tesseract:     viper.GetString("TESSERACT_BIN"),
			TesseractLang: viper.GetString("TESSERACT_LANG"),
			TessdataDir:   viper.GetString("TESSDATA_PREFIX"),
			PSM:           viper.GetInt("TESSERACT_PSM"),
			OEM:           viper.GetInt("TESSERACT_OEM"),
		},
		Schemas: SchemaConfig{
			Dir: viper.GetString("SCHEMA_DIR"),
		},
		Backend: BackendConfig{
			Kind:      viper.GetString("EXECUTION_BACKEND"),
			RunnerURL: viper.GetString("RUNNER_URL"),
			RunnerKey: viper.GetString("RUNNER_API_KEY"),
			AMQPURL:   viper.GetString("AMQP_URL"),
			AMQPQueue: viper.GetString("AMQP_QUEUE"),
		},
		Worker: WorkerConfig{
			Workers:        viper.GetInt("WORKER_COUNT"),
			PollInterval:   viper.GetDuration("WORKER_POLL_INTERVAL"),
			ProcessTimeout: viper.GetDuration("WORKER_PROCESS_TIMEOUT"),
		},
		Retry: RetryConfig{
			MaxAttempts: viper.GetInt("RETRY_MAX_ATTEMPTS"),
			BaseDelay:   viper.GetDuration("RETRY_BASE_DELAY"),
			MaxDelay:    viper.GetDuration("RETRY_MAX_DELAY"),
		},
		Webhook: WebhookConfig{
			Secret: viper.GetString("WEBHOOK_SECRET"),
		},
	}
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_DSN is required", ErrInvalidInput)
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be sqlite or postgres", ErrInvalidInput)
	}
	if c.Server.Addr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	switch c.Backend.Kind {
	case "local":
	case "http":
		if c.Backend.RunnerURL == "" {
			return NewAppError("CONFIG_ERROR", "RUNNER_URL is required for the http backend", ErrInvalidInput)
		}
		if c.Webhook.Secret == "" {
			return NewAppError("CONFIG_ERROR", "WEBHOOK_SECRET is required for delegated backends", ErrInvalidInput)
		}
	case "amqp":
		if c.Backend.AMQPURL == "" {
			return NewAppError("CONFIG_ERROR", "AMQP_URL is required for the amqp backend", ErrInvalidInput)
		}
		if c.Webhook.Secret == "" {
			return NewAppError("CONFIG_ERROR", "WEBHOOK_SECRET is required for delegated backends", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "EXECUTION_BACKEND must be local, http or amqp", ErrInvalidInput)
	}
	if c.Retry.MaxAttempts < 1 {
		return NewAppError("CONFIG_ERROR", "RETRY_MAX_ATTEMPTS must be at least 1", ErrInvalidInput)
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return NewAppError("CONFIG_ERROR", "retry delays must satisfy 0 < base <= max", ErrInvalidInput)
	}
	return nil
}

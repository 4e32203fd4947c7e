// Package config loads server settings from LEDGER_ prefixed environment
// variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "LEDGER"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Transcribers.
const (
	TranscriberGemini  = "gemini"
	TranscriberWhisper = "whisper"
)

// Config holds the configuration for the ledger server.
type Config struct {
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	DBDriver      string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBPath        string `envconfig:"DB_PATH" default:"./data/ledger.db"`
	PostgresDSN   string `envconfig:"POSTGRES_DSN"`
	MongoURI      string `envconfig:"MONGO_URI"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"tallyledger"`

	JWTSecret string        `envconfig:"JWT_SECRET"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`

	Transcriber   string `envconfig:"TRANSCRIBER" default:"gemini"`
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY"`
	GeminiModel   string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
	WhisperURL    string `envconfig:"WHISPER_URL" default:"https://api.openai.com"`
	WhisperAPIKey string `envconfig:"WHISPER_API_KEY"`
	WhisperModel  string `envconfig:"WHISPER_MODEL" default:"whisper-1"`

	UpstreamTimeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"30s"`
	StoreTimeout    time.Duration `envconfig:"STORE_TIMEOUT" default:"10s"`
	MaxAudioBytes   int64         `envconfig:"MAX_AUDIO_BYTES" default:"26214400"`
	AppendRetries   int           `envconfig:"APPEND_RETRIES" default:"10"`
	CORSOrigin      string        `envconfig:"CORS_ORIGIN" default:"*"`
}

// New parses the environment and validates the result.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Info("Configuration loaded",
		"port", cfg.HTTPPort,
		"db_driver", cfg.DBDriver,
		"transcriber", cfg.Transcriber,
		"gemini_key_present", cfg.GeminiAPIKey != "",
		"whisper_key_present", cfg.WhisperAPIKey != "",
	)
	return &cfg, nil
}

// NewForTesting returns defaults suitable for in-process tests: an in-memory
// store and a fixed secret.
func NewForTesting() *Config {
	var cfg Config
	if err := envconfig.Process("LEDGER_TESTING_UNSET", &cfg); err != nil {
		panic(err)
	}
	cfg.DBDriver = DriverMemory
	cfg.JWTSecret = "test-secret"
	return &cfg
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("LEDGER_DB_PATH is required for sqlite"))
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("LEDGER_POSTGRES_DSN is required for postgres"))
		}
	case DriverMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("LEDGER_MONGO_URI is required for mongo"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported LEDGER_DB_DRIVER: %q", c.DBDriver))
	}

	switch c.Transcriber {
	case TranscriberGemini, TranscriberWhisper:
	default:
		errs = append(errs, fmt.Errorf("unsupported LEDGER_TRANSCRIBER: %q", c.Transcriber))
	}

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("LEDGER_JWT_SECRET is required"))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid LEDGER_HTTP_PORT: %d", c.HTTPPort))
	}
	if c.MaxAudioBytes <= 0 {
		errs = append(errs, errors.New("LEDGER_MAX_AUDIO_BYTES must be positive"))
	}
	if c.AppendRetries <= 0 {
		errs = append(errs, errors.New("LEDGER_APPEND_RETRIES must be positive"))
	}
	return errors.Join(errs...)
}

// HTTPAddr is the listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

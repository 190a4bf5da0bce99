package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

// Common errors
var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL environment variable is required")
	ErrInvalidBatchSize   = errors.New("batch size must be positive")
	ErrInvalidWorkers     = errors.New("workers must be positive")
	ErrInvalidLogFormat   = errors.New("log format must be json or console")
)

const (
	DefaultBatchSize   = 5000
	DefaultWorkers     = 1
	DefaultPort        = "8080"
	DefaultUploadDir   = "uploads"
	DefaultUploadRate  = 1.0
	DefaultUploadBurst = 5
)

// Config holds everything the ingestion binaries need from their environment.
// Nothing under internal/ingest reads it directly; the binaries translate it
// into ingest.Options.
type Config struct {
	DatabaseURL string `yaml:"database_url"`

	// Batch loader
	BatchSize int  `yaml:"batch_size"`
	SaveRaw   bool `yaml:"save_raw"`
	Workers   int  `yaml:"workers"`

	// Portal API
	Port            string   `yaml:"port"`
	UploadDir       string   `yaml:"upload_dir"`
	IngestTokenHash string   `yaml:"ingest_token_hash"` // bcrypt hash; empty disables uploads
	UploadRate      float64  `yaml:"upload_rate"`       // requests per second
	UploadBurst     int      `yaml:"upload_burst"`
	CORSOrigins     []string `yaml:"cors_origins"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" or "console"
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		BatchSize:   DefaultBatchSize,
		SaveRaw:     true,
		Workers:     DefaultWorkers,
		Port:        DefaultPort,
		UploadDir:   DefaultUploadDir,
		UploadRate:  DefaultUploadRate,
		UploadBurst: DefaultUploadBurst,
		CORSOrigins: []string{"http://localhost:5173"},
		LogLevel:    "info",
		LogFormat:   "json",
	}
}

// LoadFile overlays a YAML file on top of the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Load builds the effective configuration: defaults, then the optional YAML
// file, then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
//
// Environment variables:
//   - DATABASE_URL: Postgres DSN (PG_DSN is accepted as a fallback)
//   - BATCH: batch loader size (default: 5000)
//   - SAVE_RAW: "1" archives raw rows, "0" disables (default: "1")
//   - WORKERS: files ingested concurrently (default: 1)
//   - PORT, UPLOAD_DIR, INGEST_TOKEN_HASH, UPLOAD_RATE, UPLOAD_BURST: portal API
//   - CORS_ORIGINS: comma-separated origins allowed to call the portal API
//   - LOG_LEVEL, LOG_FORMAT: logging
func (c *Config) ApplyEnv() error {
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		c.DatabaseURL = v
	} else if v := strings.TrimSpace(os.Getenv("PG_DSN")); v != "" {
		c.DatabaseURL = v
	}

	if v := strings.TrimSpace(os.Getenv("BATCH")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BATCH: %w", err)
		}
		c.BatchSize = n
	}
	if v := strings.TrimSpace(os.Getenv("SAVE_RAW")); v != "" {
		c.SaveRaw = v == "1"
	}
	if v := strings.TrimSpace(os.Getenv("WORKERS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WORKERS: %w", err)
		}
		c.Workers = n
	}

	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		c.Port = v
	}
	if v := strings.TrimSpace(os.Getenv("UPLOAD_DIR")); v != "" {
		c.UploadDir = v
	}
	if v := strings.TrimSpace(os.Getenv("INGEST_TOKEN_HASH")); v != "" {
		c.IngestTokenHash = v
	}
	if v := strings.TrimSpace(os.Getenv("UPLOAD_RATE")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("UPLOAD_RATE: %w", err)
		}
		c.UploadRate = f
	}
	if v := strings.TrimSpace(os.Getenv("UPLOAD_BURST")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("UPLOAD_BURST: %w", err)
		}
		c.UploadBurst = n
	}

	if v := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); v != "" {
		c.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	}

	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("LOG_FORMAT")); v != "" {
		c.LogFormat = strings.ToLower(v)
	}
	return nil
}

// Validate checks the fields every binary depends on.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBatchSize, c.BatchSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Workers)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.LogFormat)
	}
	return nil
}

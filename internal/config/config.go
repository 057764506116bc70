// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Storage backends.
const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	// Storage settings.
	Storage     string // "sqlite" (one file per profile) or "postgres".
	DataDir     string // Directory of the SQLite profile databases.
	DatabaseURL string // Postgres URL, required for the postgres backend.

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Analysis settings.
	Workers           int  // Concurrent partition builders.
	PartitionSize     int  // Records per partition.
	CollapseLambdas   bool // Collapse lambda-forwarding frames by default.
	GuardianMinSample int64
	GuardianRulesPath string // Optional YAML rule overrides.
	CacheEnabled      bool

	// Ingest settings.
	IngestBufferSize   int
	IngestFlushTimeout time.Duration

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults
// and validates it.
func Load() (Config, error) {
	cfg, err := Parse()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse reads configuration from environment variables without checking
// cross-setting invariants, for callers that override settings before
// calling Validate. Every malformed variable is reported, not only the first.
func Parse() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	workers, err := envInt("KENBI_WORKERS", runtime.GOMAXPROCS(0))
	collect(err)
	partitionSize, err := envInt("KENBI_PARTITION_SIZE", 50_000)
	collect(err)
	collapse, err := envBool("KENBI_COLLAPSE_LAMBDAS", false)
	collect(err)
	minSamples, err := envInt("KENBI_GUARDIAN_MIN_SAMPLES", 1000)
	collect(err)
	cacheEnabled, err := envBool("KENBI_CACHE_ENABLED", true)
	collect(err)
	bufferSize, err := envInt("KENBI_INGEST_BUFFER_SIZE", 10_000)
	collect(err)
	flushTimeout, err := envDuration("KENBI_INGEST_FLUSH_TIMEOUT", time.Second)
	collect(err)
	insecure, err := envBool("KENBI_OTEL_INSECURE", false)
	collect(err)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}

	cfg := Config{
		Storage:            strings.ToLower(envStr("KENBI_STORAGE", StorageSQLite)),
		DataDir:            envStr("KENBI_DATA_DIR", defaultDataDir()),
		DatabaseURL:        envStr("DATABASE_URL", ""),
		OTELEndpoint:       envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:        envStr("OTEL_SERVICE_NAME", "kenbi"),
		OTELInsecure:       insecure,
		Workers:            workers,
		PartitionSize:      partitionSize,
		CollapseLambdas:    collapse,
		GuardianMinSample:  int64(minSamples),
		GuardianRulesPath:  envStr("KENBI_GUARDIAN_RULES", ""),
		CacheEnabled:       cacheEnabled,
		IngestBufferSize:   bufferSize,
		IngestFlushTimeout: flushTimeout,
		LogLevel:           envStr("KENBI_LOG_LEVEL", "info"),
	}
	return cfg, nil
}

// Validate checks invariants across settings.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage {
	case StorageSQLite:
		if c.DataDir == "" {
			errs = append(errs, errors.New("KENBI_DATA_DIR is required for sqlite storage"))
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("KENBI_STORAGE=%q must be %q or %q", c.Storage, StorageSQLite, StoragePostgres))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("KENBI_WORKERS must be positive"))
	}
	if c.PartitionSize <= 0 {
		errs = append(errs, errors.New("KENBI_PARTITION_SIZE must be positive"))
	}
	if c.GuardianMinSample < 0 {
		errs = append(errs, errors.New("KENBI_GUARDIAN_MIN_SAMPLES must not be negative"))
	}
	if c.IngestBufferSize <= 0 {
		errs = append(errs, errors.New("KENBI_INGEST_BUFFER_SIZE must be positive"))
	}
	if c.IngestFlushTimeout <= 0 {
		errs = append(errs, errors.New("KENBI_INGEST_FLUSH_TIMEOUT must be positive"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("KENBI_LOG_LEVEL=%q must be debug, info, warn or error", c.LogLevel))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "kenbi")
	}
	return ".kenbi"
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

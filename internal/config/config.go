// Package config loads service configuration from the environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"

	DefaultAPIVersion = "2025-10"
	MaxPageSize       = 250
)

// Config holds every setting of the service
type Config struct {
	Port     string
	LogLevel zerolog.Level

	DatabaseURL       string
	CatalogBackend    string
	CredentialBackend string
	MongoURI          string
	MongoDatabase     string
	RedisURL          string
	EncryptionKey     string

	Shopify ShopifyConfig
	Sync    SyncConfig
}

// ShopifyConfig configures the remote catalog client
type ShopifyConfig struct {
	APIKey             string
	APISecret          string
	APIVersion         string
	RequestTimeout     time.Duration
	PageSize           int
	VariantsPerProduct int
	MediaPerProduct    int
}

// SyncConfig configures the sync engine and the scheduler
type SyncConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	LockTTL        time.Duration
	Interval       time.Duration
	Concurrency    int
}

// Load reads .env when present, then the environment
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function and validates it
func FromEnv(getenv func(string) string) (Config, error) {
	e := env{getenv: getenv}

	level, err := zerolog.ParseLevel(strings.ToLower(e.str("LOG_LEVEL", "info")))
	if err != nil {
		return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg := Config{
		Port:              e.str("PORT", "8080"),
		LogLevel:          level,
		DatabaseURL:       e.str("DATABASE_URL", ""),
		CatalogBackend:    strings.ToLower(e.str("CATALOG_BACKEND", BackendPostgres)),
		CredentialBackend: strings.ToLower(e.str("CREDENTIAL_BACKEND", BackendPostgres)),
		MongoURI:          e.str("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase:     e.str("MONGODB_DATABASE", "catalog_mirror"),
		RedisURL:          e.str("REDIS_URL", ""),
		EncryptionKey:     e.str("ENCRYPTION_KEY", ""),
		Shopify: ShopifyConfig{
			APIKey:             e.str("SHOPIFY_API_KEY", ""),
			APISecret:          e.str("SHOPIFY_API_SECRET", ""),
			APIVersion:         e.str("SHOPIFY_API_VERSION", DefaultAPIVersion),
			RequestTimeout:     e.duration("SHOPIFY_REQUEST_TIMEOUT", 15*time.Second),
			PageSize:           ClampPageSize(e.int("SHOPIFY_PAGE_SIZE", 50)),
			VariantsPerProduct: e.int("SHOPIFY_VARIANTS_PER_PRODUCT", 100),
			MediaPerProduct:    e.int("SHOPIFY_MEDIA_PER_PRODUCT", 10),
		},
		Sync: SyncConfig{
			MaxAttempts:    e.int("SYNC_MAX_ATTEMPTS", 3),
			InitialBackoff: e.duration("SYNC_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:     e.duration("SYNC_MAX_BACKOFF", 30*time.Second),
			LockTTL:        e.duration("SYNC_LOCK_TTL", 2*time.Minute),
			Interval:       e.duration("SYNC_INTERVAL", 10*time.Minute),
			Concurrency:    e.int("SYNC_CONCURRENCY", 4),
		},
	}
	if len(e.errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(e.errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c Config) Validate() error {
	for _, b := range []struct{ key, value string }{
		{"CATALOG_BACKEND", c.CatalogBackend},
		{"CREDENTIAL_BACKEND", c.CredentialBackend},
	} {
		switch b.value {
		case BackendPostgres, BackendMemory:
		case BackendMongo:
			if b.key == "CATALOG_BACKEND" {
				return fmt.Errorf("CATALOG_BACKEND does not support %q", b.value)
			}
		default:
			return fmt.Errorf("unknown %s %q", b.key, b.value)
		}
	}
	if (c.CatalogBackend == BackendPostgres || c.CredentialBackend == BackendPostgres) && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY environment variable is required")
	}
	if c.Shopify.RequestTimeout <= 0 {
		return fmt.Errorf("SHOPIFY_REQUEST_TIMEOUT must be positive")
	}
	if c.Shopify.VariantsPerProduct < 1 || c.Shopify.VariantsPerProduct > MaxPageSize {
		return fmt.Errorf("SHOPIFY_VARIANTS_PER_PRODUCT must be between 1 and %d", MaxPageSize)
	}
	if c.Shopify.MediaPerProduct < 1 || c.Shopify.MediaPerProduct > MaxPageSize {
		return fmt.Errorf("SHOPIFY_MEDIA_PER_PRODUCT must be between 1 and %d", MaxPageSize)
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("SYNC_MAX_ATTEMPTS must be at least 1")
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("SYNC_CONCURRENCY must be at least 1")
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("SYNC_INTERVAL must not be negative")
	}
	return nil
}

// ClampPageSize bounds a requested page size to what the Admin API accepts
func ClampPageSize(n int) int {
	switch {
	case n < 1:
		return 1
	case n > MaxPageSize:
		return MaxPageSize
	default:
		return n
	}
}

type env struct {
	getenv func(string) string
	errs   []string
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

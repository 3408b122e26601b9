package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/osu-cs493-sp23/tarpaulin/pkg/ratelimit"
	"github.com/osu-cs493-sp23/tarpaulin/pkg/submission"
	repomemory "github.com/osu-cs493-sp23/tarpaulin/pkg/submission/repo/memory"
	repopg "github.com/osu-cs493-sp23/tarpaulin/pkg/submission/repo/postgres"
	fsstorage "github.com/osu-cs493-sp23/tarpaulin/pkg/submission/storage/fs"
	memorystorage "github.com/osu-cs493-sp23/tarpaulin/pkg/submission/storage/memory"
	s3storage "github.com/osu-cs493-sp23/tarpaulin/pkg/submission/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of
// library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:                  "8000",
		Environment:           "development",
		DatabaseType:          "memory",
		DefaultStorageBackend: "memory",
		StorageBackends: []StorageBackendConfig{
			{
				Name:   "memory",
				Type:   "memory",
				Config: map[string]interface{}{},
			},
		},
		RateLimit: RateLimitConfig{
			MaxAuthenticated: 30,
			MaxAnonymous:     10,
			WindowMillis:     60_000,
		},
	}
}

// ServerConfig represents server configuration for the submission service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration (submission index)
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"

	// Storage configuration
	DefaultStorageBackend string
	StorageBackends       []StorageBackendConfig

	// Counter store configuration (rate limiter). Empty RedisAddr keeps
	// bucket state in process memory.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimit RateLimitConfig
}

// StorageBackendConfig represents configuration for a storage backend
type StorageBackendConfig struct {
	Name   string
	Type   string // "memory", "fs", "s3"
	Config map[string]interface{}
}

// RateLimitConfig holds the two-tier token bucket policy.
type RateLimitConfig struct {
	MaxAuthenticated float64
	MaxAnonymous     float64
	WindowMillis     int
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	if c.RateLimit.MaxAuthenticated <= 0 || c.RateLimit.MaxAnonymous <= 0 {
		return errors.New("rate limit ceilings must be positive")
	}
	if c.RateLimit.WindowMillis <= 0 {
		return errors.New("rate limit window must be positive")
	}

	found := false
	for _, backend := range c.StorageBackends {
		if backend.Name == c.DefaultStorageBackend {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("default storage backend '%s' not found in configured backends", c.DefaultStorageBackend)
	}

	return nil
}

// BuildService creates a submission Service from the server configuration.
// Extra options (e.g. an AssignmentChecker supplied by the CRUD layer) are
// applied after the configured ones.
func (c *ServerConfig) BuildService(extra ...submission.Option) (submission.Service, error) {
	var options []submission.Option

	repo, err := c.buildRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	options = append(options, submission.WithRepository(repo))

	for _, backendConfig := range c.StorageBackends {
		store, err := c.buildStorageBackend(backendConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build storage backend %s: %w", backendConfig.Name, err)
		}
		options = append(options, submission.WithBlobStore(backendConfig.Name, store))
	}
	options = append(options, submission.WithDefaultBackend(c.DefaultStorageBackend))

	options = append(options, extra...)

	return submission.New(options...)
}

// BuildLimiter creates the rate limiter from the server configuration,
// backed by Redis when an address is configured.
func (c *ServerConfig) BuildLimiter(ctx context.Context, logger *slog.Logger) (*ratelimit.Limiter, error) {
	policy := ratelimit.Policy{
		MaxAuthenticated: c.RateLimit.MaxAuthenticated,
		MaxAnonymous:     c.RateLimit.MaxAnonymous,
		Window:           time.Duration(c.RateLimit.WindowMillis) * time.Millisecond,
	}

	var store ratelimit.CounterStore
	if c.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		// A failed ping is not fatal: the limiter fails open while the
		// store is unreachable.
		if err := rdb.Ping(ctx).Err(); err != nil && logger != nil {
			logger.Warn("counter store unreachable at startup, limiter will fail open", "addr", c.RedisAddr, "err", err)
		}
		store = ratelimit.NewRedisStore(rdb)
	} else {
		store = ratelimit.NewMemoryStore()
	}

	var opts []ratelimit.LimiterOption
	if logger != nil {
		opts = append(opts, ratelimit.WithLogger(logger))
	}
	return ratelimit.New(store, policy, opts...), nil
}

// NewRedisClient builds a Redis client from the configured coordinates,
// for callers that need one directly (e.g. the stats recorder).
func (c *ServerConfig) NewRedisClient() *redis.Client {
	if c.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
}

func (c *ServerConfig) buildRepository() (submission.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return repomemory.New(), nil
	case "postgres":
		pool, err := pgxpool.New(context.Background(), c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		return repopg.NewWithPool(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

func (c *ServerConfig) buildStorageBackend(backendConfig StorageBackendConfig) (submission.BlobStore, error) {
	switch backendConfig.Type {
	case "memory":
		return memorystorage.New(), nil
	case "fs":
		baseDir, _ := backendConfig.Config["base_dir"].(string)
		return fsstorage.New(fsstorage.Config{BaseDir: baseDir})
	case "s3":
		cfg := s3storage.Config{}
		if v, ok := backendConfig.Config["bucket"].(string); ok {
			cfg.Bucket = v
		}
		if v, ok := backendConfig.Config["region"].(string); ok {
			cfg.Region = v
		}
		if v, ok := backendConfig.Config["endpoint"].(string); ok {
			cfg.Endpoint = v
		}
		if v, ok := backendConfig.Config["access_key_id"].(string); ok {
			cfg.AccessKeyID = v
		}
		if v, ok := backendConfig.Config["secret_access_key"].(string); ok {
			cfg.SecretAccessKey = v
		}
		if v, ok := backendConfig.Config["use_path_style"].(bool); ok {
			cfg.UsePathStyle = v
		}
		if v, ok := backendConfig.Config["create_bucket_if_not_exist"].(bool); ok {
			cfg.CreateBucketIfNotExist = v
		}
		return s3storage.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", backendConfig.Type)
	}
}

// Package cache provides a Redis-based cache of resolved tracks.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/osa030/voicebox/internal/domain/track"
	"github.com/osa030/voicebox/internal/infra/logger"
)

// Default values
const (
	DefaultTTL       = 30 * time.Minute
	DefaultKeyPrefix = "voicebox:resolve:"
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
	KeyPrefix     string

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		TTL:            DefaultTTL,
		KeyPrefix:      DefaultKeyPrefix,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
// A disabled cache answers every lookup with a miss.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// cachedTrack is the stored form of a resolved track.
type cachedTrack struct {
	Locator      string        `json:"locator"`
	Title        string        `json:"title"`
	Author       string        `json:"author"`
	URL          string        `json:"url"`
	ThumbnailURL string        `json:"thumbnail_url"`
	Duration     time.Duration `json:"duration"`
	Query        string        `json:"query"`
}

// New creates a new cache instance. If Redis is unreachable the cache starts disabled.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}

	log := logger.Component("cache")

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     10,
		MinIdleConns: 1,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Msgf("redis cache unavailable, running without caching: addr=%s error=%v", cfg.RedisAddr, err)
		_ = client.Close()
		return &Cache{
			logger:   log,
			config:   cfg,
			disabled: true,
		}
	}

	log.Info().Msgf("redis cache initialized: addr=%s ttl=%v", cfg.RedisAddr, cfg.TTL)

	return &Cache{
		client: client,
		logger: log,
		config: cfg,
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	c.logger.Debug().Msgf("cache operation failed: operation=%s error=%v", operation, err)

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to redis error")
	}
}

// Key returns the Redis key for a query. Queries are compared case-insensitively.
func Key(prefix, query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return prefix + hex.EncodeToString(sum[:16])
}

// GetTrack retrieves the cached resolution of query.
func (c *Cache) GetTrack(ctx context.Context, query string) (track.Source, bool) {
	if !c.IsAvailable() {
		return track.Source{}, false
	}

	key := Key(c.config.KeyPrefix, query)
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return track.Source{}, false
	}
	if err != nil {
		c.handleError(err, "get")
		return track.Source{}, false
	}

	var ct cachedTrack
	if err := json.Unmarshal(data, &ct); err != nil {
		c.logger.Debug().Msgf("failed to unmarshal cached value: key=%s error=%v", key, err)
		return track.Source{}, false
	}

	c.logger.Debug().Msgf("track cache hit: query=%q", query)
	return track.Source(ct), true
}

// SetTrack caches the resolution of query.
func (c *Cache) SetTrack(ctx context.Context, query string, src track.Source) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(cachedTrack(src))
	if err != nil {
		return errors.Wrap(err, "failed to marshal cache value")
	}

	if err := c.client.Set(ctx, Key(c.config.KeyPrefix, query), data, c.config.TTL).Err(); err != nil {
		c.handleError(err, "set")
		return errors.Wrap(err, "failed to set cache value")
	}
	return nil
}

// InvalidateTrack removes the cached resolution of query.
func (c *Cache) InvalidateTrack(ctx context.Context, query string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, Key(c.config.KeyPrefix, query)).Err(); err != nil {
		c.handleError(err, "delete")
		return errors.Wrap(err, "failed to delete cache value")
	}
	return nil
}

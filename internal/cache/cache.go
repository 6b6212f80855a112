// Package cache stores rendered artifacts and template sources keyed by
// identity and modification time. Backends live in memory or in redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backend names accepted by New
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// ErrMiss is returned by Get when a key is absent or expired
var ErrMiss = errors.New("cache miss")

// Cache is a byte store with per-entry expiry
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores a value; a zero ttl selects the configured default, a negative
	// one stores without expiry
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Clear removes every key under the configured prefix
	Clear(ctx context.Context) error
	Close() error
}

// Config holds settings shared by all backends
type Config struct {
	Backend    string        `mapstructure:"backend"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	Prefix     string        `mapstructure:"prefix"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

// DefaultConfig returns an in-memory configuration
func DefaultConfig() Config {
	return Config{
		Backend:    BackendMemory,
		DefaultTTL: 10 * time.Minute,
		Prefix:     "webscript:",
		Redis:      RedisConfig{Addr: "localhost:6379"},
	}
}

// New builds the backend named by cfg.Backend
func New(cfg Config) (Cache, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemory(cfg), nil
	case BackendRedis:
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Key joins key parts with ':'
func Key(parts ...string) string {
	n := len(parts)
	for _, p := range parts {
		n += len(p)
	}
	b := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			b = append(b, ':')
		}
		b = append(b, p...)
	}
	return string(b)
}

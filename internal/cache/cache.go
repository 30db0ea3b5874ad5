// Package cache provides the key/value store backing sessions and the PKCE
// session backup. Two backends: in-process memory (dev, tests) and redis.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and GetDel for missing or expired keys.
var ErrNotFound = errors.New("cache: key not found")

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Client is the cache contract.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value with a TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// GetDel fetches and removes the key. Single-use reads (PKCE backup
	// entries) go through this.
	GetDel(ctx context.Context, key string) ([]byte, error)

	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Kind       string // "memory" | "redis"
	Addr       string
	Password   string
	DB         int
	Prefix     string
	DefaultTTL time.Duration
}

// New builds a Client from config.
func New(cfg Config) (Client, error) {
	switch cfg.Kind {
	case "redis":
		return NewRedis(cfg), nil
	case "memory", "":
		return NewMemory(cfg.DefaultTTL), nil
	}
	return nil, errors.New("cache: unknown kind " + cfg.Kind)
}

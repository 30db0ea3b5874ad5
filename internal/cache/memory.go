package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type memoryClient struct {
	c *gocache.Cache
}

// NewMemory returns an in-process cache. Expired entries are reaped every
// minute by go-cache's janitor.
func NewMemory(defaultTTL time.Duration) Client {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Minute
	}
	return &memoryClient{c: gocache.New(defaultTTL, time.Minute)}
}

func (m *memoryClient) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	b, _ := v.([]byte)
	return b, nil
}

func (m *memoryClient) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(key, value, ttl)
	return nil
}

func (m *memoryClient) GetDel(ctx context.Context, key string) ([]byte, error) {
	b, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	m.c.Delete(key)
	return b, nil
}

func (m *memoryClient) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

func (m *memoryClient) Ping(context.Context) error { return nil }
func (m *memoryClient) Close() error               { return nil }

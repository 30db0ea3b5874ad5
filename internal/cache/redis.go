package cache

import (
	"context"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

type redisClient struct {
	c      *rdb.Client
	prefix string
}

// NewRedis returns a redis-backed cache. All keys carry cfg.Prefix.
func NewRedis(cfg Config) Client {
	return &redisClient{
		c: rdb.NewClient(&rdb.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: cfg.Prefix,
	}
}

func (r *redisClient) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.c.Get(ctx, r.prefix+key).Bytes()
	if err == rdb.Nil {
		return nil, ErrNotFound
	}
	return b, err
}

func (r *redisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.c.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *redisClient) GetDel(ctx context.Context, key string) ([]byte, error) {
	b, err := r.c.GetDel(ctx, r.prefix+key).Bytes()
	if err == rdb.Nil {
		return nil, ErrNotFound
	}
	return b, err
}

func (r *redisClient) Delete(ctx context.Context, key string) error {
	return r.c.Del(ctx, r.prefix+key).Err()
}

func (r *redisClient) Ping(ctx context.Context) error { return r.c.Ping(ctx).Err() }
func (r *redisClient) Close() error                   { return r.c.Close() }

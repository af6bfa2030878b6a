package stats

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type RedisCache struct {
	client *redis.Client
}

var _ Cache = &RedisCache{}

// NewRedisCache connects to a redis URL like "redis://host:6379/2".
func NewRedisCache(url string) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opt)}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

type Logger interface {
	Warnf(format string, args ...interface{})
}

// Source serves the history, keeping a copy in the cache for ttl.
type Source struct {
	path   string
	cache  Cache
	ttl    time.Duration
	logger Logger
}

const cacheKey = "dogs:stats:history"

// NewSource returns a Source reading path. cache may be nil, in which case
// every call reads the file.
func NewSource(path string, cache Cache, ttl time.Duration, logger Logger) *Source {
	return &Source{path: path, cache: cache, ttl: ttl, logger: logger}
}

// History returns the cached history when present. Cache failures are logged
// and fall through to reading the file.
func (s *Source) History(ctx context.Context) (History, error) {
	if s.cache == nil || s.ttl <= 0 {
		return LoadHistory(s.path)
	}

	b, err := s.cache.Get(ctx, cacheKey)
	switch {
	case err == nil:
		var h History
		if err := json.Unmarshal(b, &h); err == nil {
			return h, nil
		}
		s.logger.Warnf("stats cache holds a malformed entry; reloading")
	case !errors.Is(err, ErrCacheMiss):
		s.logger.Warnf("stats cache is unavailable: %v", err)
	}

	h, err := LoadHistory(s.path)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(h); err == nil {
		if err := s.cache.Set(ctx, cacheKey, b, s.ttl); err != nil {
			s.logger.Warnf("failed to cache stats: %v", err)
		}
	}
	return h, nil
}

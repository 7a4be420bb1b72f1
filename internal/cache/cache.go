// Package cache stores derived PDF results (page counts, extracted
// text) so repeated post processing calls skip the expensive work.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattiianni/Pdf50/internal/config"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Close() error
}

// New builds the cache client selected by the configured driver.
func New(cfg config.CacheConfig) (Client, error) {
	switch cfg.Driver {
	case config.CacheDriverRedis:
		return NewRedisClient(RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
	case config.CacheDriverOff:
		return NopClient{}, nil
	default:
		return NewMemoryClient(cfg.MaxEntries), nil
	}
}

// NopClient misses on every read and swallows every write.
type NopClient struct{}

func (NopClient) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (NopClient) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NopClient) Delete(context.Context, string) error { return nil }

func (NopClient) DeleteByPrefix(context.Context, string) error { return nil }

func (NopClient) Close() error { return nil }

// CacheKey joins components into a colon separated key.
func CacheKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// FileKey derives a stable key for results computed from the file at
// path. Size and mtime are folded in, so rewriting the file invalidates
// earlier entries.
func FileKey(kind, path string, size int64, mtime time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", path, size, mtime.UnixNano())))
	return CacheKey(kind, hex.EncodeToString(sum[:16]))
}

// FileKeyFor stats path and derives its FileKey.
func FileKeyFor(kind, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return FileKey(kind, path, info.Size(), info.ModTime()), nil
}

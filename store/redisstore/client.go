// Package redisstore implements store.Store and the transport's response cache on top of go-redis/v9.
package redisstore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/escrow-tf/tradeoffers/store"
	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
	// Prefix namespaces every key, e.g. "tradeoffers:".
	Prefix string
	// TTL applies to blobs written through Put. Zero keeps them forever.
	TTL time.Duration
}

type Store struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// New creates the client and pings it to verify connectivity.
func New(ctx context.Context, cfg ClientConfig) (*Store, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return NewFromClient(rdb, cfg.Prefix, cfg.TTL), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(rdb *redis.Client, prefix string, ttl time.Duration) *Store {
	return &Store{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *Store) blobKey(key string) string     { return s.prefix + "blob:" + key }
func (s *Store) responseKey(key string) string { return s.prefix + "http:" + key }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.rdb.Get(ctx, s.blobKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, s.blobKey(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: put %s: %w", key, err)
	}
	return nil
}

// ResponseCache adapts the store to the transport's string response cache.
func (s *Store) ResponseCache() *ResponseCache {
	return &ResponseCache{store: s}
}

type ResponseCache struct {
	store *Store
}

func (c *ResponseCache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.store.rdb.Get(ctx, c.store.responseKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("redis: get response %s: %w", key, err)
	}
	return value, nil
}

func (c *ResponseCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := c.store.rdb.Set(ctx, c.store.responseKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set response %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

var _ store.Store = (*Store)(nil)

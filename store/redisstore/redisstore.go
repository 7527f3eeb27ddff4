// Package redisstore provides a Redis-backed implementation of the store
// port for hosted deployments: lobby kiosks and panel gateways that share
// one session host rather than keeping per-device files.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parkrow/sessionkit/store"
)

// Store persists keys under a common prefix. A zero TTL keeps entries until
// deleted; a positive TTL bounds how long an unused session survives on the
// shared host.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New wraps an existing Redis client. The caller owns the client lifecycle.
func New(client *redis.Client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "sessionkit:"
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) key(key string) string {
	return s.prefix + key
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)

// Package redis provides a Redis-backed implementation of session.Store.
// Records are stored as JSON strings; a positive ttl maps to the key expiry.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/session"
)

type (
	// Client is the subset of the go-redis API used by the store.
	// *redis.Client and *redis.ClusterClient implement it.
	Client interface {
		Get(ctx context.Context, key string) *redis.StringCmd
		Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
		Ping(ctx context.Context) *redis.StatusCmd
	}

	// Store implements session.Store on Redis.
	Store struct {
		client Client
		prefix string
	}

	// Option configures a Store.
	Option func(*Store)
)

const storeName = "thread-redis"

// WithPrefix namespaces every key with prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// NewStore builds a Store using the provided client.
func NewStore(client Client, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	s := &Store{client: client}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, key string) (*model.Record, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("get thread %q: %w", key, err)
	}
	var rec model.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode thread %q: %w", key, err)
	}
	return &rec, nil
}

// Set implements session.Store.
func (s *Store) Set(ctx context.Context, key string, rec *model.Record, ttl time.Duration) error {
	if key == "" {
		return errors.New("key is required")
	}
	if rec == nil {
		return errors.New("record is required")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode thread %q: %w", key, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("set thread %q: %w", key, err)
	}
	return nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return storeName }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

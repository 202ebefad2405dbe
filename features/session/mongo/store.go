package mongo

import (
	"context"
	"errors"
	"time"

	clientsmongo "goa.design/symposium/features/session/mongo/clients/mongo"
	"goa.design/symposium/runtime/agent/model"
)

// Store implements session.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Get loads the record stored under key.
func (s *Store) Get(ctx context.Context, key string) (*model.Record, error) {
	return s.client.Get(ctx, key)
}

// Set stores rec under key.
func (s *Store) Set(ctx context.Context, key string, rec *model.Record, ttl time.Duration) error {
	return s.client.Set(ctx, key, rec, ttl)
}

// Name implements health.Pinger.
func (s *Store) Name() string { return s.client.Name() }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

// Package backend opens the thread store selected by the storage section of
// the configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	mongostore "goa.design/symposium/features/session/mongo"
	clientsmongo "goa.design/symposium/features/session/mongo/clients/mongo"
	redisstore "goa.design/symposium/features/session/redis"
	"goa.design/symposium/runtime/agent/config"
	"goa.design/symposium/runtime/agent/session"
	"goa.design/symposium/runtime/agent/session/inmem"
)

// Backend is an opened thread store and the connection backing it.
type Backend struct {
	Store session.Store
	// Redis is set for the redis backend so the Pulse run log can share
	// the connection.
	Redis *redis.Client

	close func(context.Context) error
}

// Open connects to the backend named by cfg. cfg must be validated.
func Open(ctx context.Context, cfg config.Storage) (*Backend, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return &Backend{Store: inmem.New(), close: func(context.Context) error { return nil }}, nil
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		store, err := redisstore.NewStore(rdb)
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		return &Backend{Store: store, Redis: rdb, close: func(context.Context) error { return rdb.Close() }}, nil
	case config.BackendMongo:
		mc, err := mongodriver.Connect(options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		client, err := clientsmongo.New(clientsmongo.Options{
			Client:     mc,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
		if err != nil {
			_ = mc.Disconnect(ctx)
			return nil, err
		}
		store, err := mongostore.NewStore(client)
		if err != nil {
			_ = mc.Disconnect(ctx)
			return nil, err
		}
		return &Backend{Store: store, close: mc.Disconnect}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Close releases the connection.
func (b *Backend) Close(ctx context.Context) error {
	return b.close(ctx)
}

// Package mongo hosts the MongoDB client used by the thread store.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/session"
)

const (
	defaultCollection = "threads"
	defaultOpTimeout  = 5 * time.Second
	threadClientName  = "thread-mongo"
)

// Client exposes Mongo-backed operations for thread records.
type Client interface {
	health.Pinger

	Get(ctx context.Context, key string) (*model.Record, error)
	Set(ctx context.Context, key string, rec *model.Record, ttl time.Duration) error
}

// Options configures the Mongo thread client.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	threads collection
	timeout time.Duration
	now     func() time.Time
}

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, coll, timeout)
}

func (c *client) Name() string {
	return threadClientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Get(ctx context.Context, key string) (*model.Record, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	// The TTL monitor runs about once a minute; filter expired documents it
	// has not removed yet.
	filter := bson.M{
		"key": key,
		"$or": bson.A{
			bson.M{"expires_at": bson.M{"$exists": false}},
			bson.M{"expires_at": bson.M{"$gt": c.now().UTC()}},
		},
	}
	var doc threadDocument
	if err := c.threads.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, session.ErrNotFound
		}
		return nil, err
	}
	var rec model.Record
	if err := json.Unmarshal([]byte(doc.Record), &rec); err != nil {
		return nil, fmt.Errorf("decode thread %q: %w", key, err)
	}
	return &rec, nil
}

func (c *client) Set(ctx context.Context, key string, rec *model.Record, ttl time.Duration) error {
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
	now := c.now().UTC()
	set := bson.M{
		"key":        key,
		"record":     string(raw),
		"updated_at": now,
	}
	update := bson.M{"$set": set}
	if ttl > 0 {
		set["expires_at"] = now.Add(ttl)
	} else {
		update["$unset"] = bson.M{"expires_at": ""}
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err = c.threads.UpdateOne(ctx, bson.M{"key": key}, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// threadDocument stores the record as its JSON encoding: content blocks are
// a discriminated union whose codec is defined on the JSON side.
type threadDocument struct {
	Key       string     `bson:"key"`
	Record    string     `bson:"record"`
	UpdatedAt time.Time  `bson:"updated_at"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

func ensureIndexes(ctx context.Context, threads collection) error {
	keyIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := threads.Indexes().CreateOne(ctx, keyIndex); err != nil {
		return err
	}
	ttlIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
	if _, err := threads.Indexes().CreateOne(ctx, ttlIndex); err != nil {
		return err
	}
	return nil
}

func newClientWithCollection(mongoClient *mongodriver.Client, threads collection, timeout time.Duration) (*client, error) {
	if threads == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{
		mongo:   mongoClient,
		threads: threads,
		timeout: timeout,
		now:     time.Now,
	}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	UpdateOne(ctx context.Context, filter any, update any,
		opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any,
	opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}

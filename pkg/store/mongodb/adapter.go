package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimburion/autocache-mongo/pkg/observability/logger"
	"github.com/nimburion/autocache-mongo/pkg/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// namespaceExistsCode is the server error code for creating a collection that already exists.
const namespaceExistsCode = 48

// ErrAdapterClosed is returned by operations on a closed adapter.
var ErrAdapterClosed = errors.New("mongodb adapter is closed")

var _ store.Adapter = (*MongoDBAdapter)(nil)

// MongoDBAdapter provides MongoDB connectivity.
type MongoDBAdapter struct {
	client   *mongo.Client
	database string
	logger   logger.Logger
	timeout  time.Duration
	// owned is false when the client was opened by the caller; Close leaves it connected.
	owned  bool
	mu     sync.RWMutex
	closed bool
}

// Config holds MongoDB adapter configuration.
type Config struct {
	URL              string
	Database         string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	// ServerMonitor receives server and topology events from the driver.
	ServerMonitor *event.ServerMonitor
}

// Cosa fa: inizializza un adapter MongoDB e verifica connettività via ping.
// Cosa NON fa: non crea collezioni automaticamente (vedi EnsureCollection).
// Esempio minimo: adapter, err := mongodb.NewMongoDBAdapter(ctx, cfg, log)
//
// Cancelling ctx aborts the dial; ConnectTimeout bounds it either way.
func NewMongoDBAdapter(ctx context.Context, cfg Config, log logger.Logger) (*MongoDBAdapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mongodb URL is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("mongodb database is required")
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	clientOpts := options.Client().ApplyURI(cfg.URL).SetConnectTimeout(cfg.ConnectTimeout)
	if cfg.ServerMonitor != nil {
		clientOpts.SetServerMonitor(cfg.ServerMonitor)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	log.Info("MongoDB connection established", "database", cfg.Database)
	return &MongoDBAdapter{
		client:   client,
		database: cfg.Database,
		logger:   log,
		timeout:  cfg.OperationTimeout,
		owned:    true,
	}, nil
}

// NewMongoDBAdapterFromClient wraps a client the caller already connected.
// Close on the returned adapter does not disconnect the client.
func NewMongoDBAdapterFromClient(client *mongo.Client, database string, operationTimeout time.Duration, log logger.Logger) (*MongoDBAdapter, error) {
	if client == nil {
		return nil, fmt.Errorf("mongodb client is required")
	}
	if database == "" {
		return nil, fmt.Errorf("mongodb database is required")
	}
	if operationTimeout <= 0 {
		operationTimeout = 5 * time.Second
	}
	return &MongoDBAdapter{
		client:   client,
		database: database,
		logger:   log,
		timeout:  operationTimeout,
	}, nil
}

func (a *MongoDBAdapter) Database() *mongo.Database {
	return a.client.Database(a.database)
}

func (a *MongoDBAdapter) Collection(name string) *mongo.Collection {
	return a.Database().Collection(name)
}

func (a *MongoDBAdapter) Ping(ctx context.Context) error {
	if a.isClosed() {
		return ErrAdapterClosed
	}
	return a.client.Ping(ctx, readpref.Primary())
}

func (a *MongoDBAdapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Ping(hcCtx); err != nil {
		a.logger.Error("MongoDB health check failed", "error", err)
		return fmt.Errorf("mongodb health check failed: %w", err)
	}
	return nil
}

func (a *MongoDBAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	if !a.owned {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close mongodb connection: %w", err)
	}
	return nil
}

// Cosa fa: crea la collection se non esiste ancora.
// Cosa NON fa: non crea indici.
// Esempio minimo: err := adapter.EnsureCollection(ctx, "autocache")
func (a *MongoDBAdapter) EnsureCollection(ctx context.Context, name string) error {
	if a.isClosed() {
		return ErrAdapterClosed
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	names, err := a.Database().ListCollectionNames(opCtx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return fmt.Errorf("list mongodb collections: %w", err)
	}
	if len(names) > 0 {
		return nil
	}

	err = a.Database().CreateCollection(opCtx, name)
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == namespaceExistsCode {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create mongodb collection %s: %w", name, err)
	}
	a.logger.Debug("MongoDB collection created", "collection", name)
	return nil
}

func (a *MongoDBAdapter) FindOne(ctx context.Context, collection string, filter interface{}, result interface{}) error {
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	return a.Collection(collection).FindOne(opCtx, filter).Decode(result)
}

// Cosa fa: sostituisce il documento che soddisfa il filtro, inserendolo se assente.
// Esempio minimo: _, err := adapter.UpsertOne(ctx, "autocache", filter, doc)
func (a *MongoDBAdapter) UpsertOne(ctx context.Context, collection string, filter, replacement interface{}) (*mongo.UpdateResult, error) {
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	return a.Collection(collection).ReplaceOne(opCtx, filter, replacement, options.Replace().SetUpsert(true))
}

func (a *MongoDBAdapter) DeleteOne(ctx context.Context, collection string, filter interface{}) (*mongo.DeleteResult, error) {
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	return a.Collection(collection).DeleteOne(opCtx, filter)
}

func (a *MongoDBAdapter) DeleteMany(ctx context.Context, collection string, filter interface{}) (*mongo.DeleteResult, error) {
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	return a.Collection(collection).DeleteMany(opCtx, filter)
}

func (a *MongoDBAdapter) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

func (a *MongoDBAdapter) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

package mongostore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/nimburion/autocache-mongo/pkg/observability/logger"
	"github.com/nimburion/autocache-mongo/pkg/store/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/description"
)

type entryDocument struct {
	ID    string `bson:"_id"`
	Value string `bson:"value"`
}

// mongoCollection maps Collection onto a MongoDB collection.
type mongoCollection struct {
	adapter *mongodb.MongoDBAdapter
	name    string
}

func (c *mongoCollection) FindValue(ctx context.Context, id string) (string, bool, error) {
	var doc bson.M
	err := c.adapter.FindOne(ctx, c.name, bson.D{{Key: "_id", Value: id}}, &doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return valueText(doc["value"]), true, nil
}

func (c *mongoCollection) UpsertValue(ctx context.Context, id, value string) error {
	_, err := c.adapter.UpsertOne(ctx, c.name, bson.D{{Key: "_id", Value: id}}, entryDocument{ID: id, Value: value})
	return err
}

func (c *mongoCollection) Delete(ctx context.Context, id string) (int64, error) {
	res, err := c.adapter.DeleteOne(ctx, c.name, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *mongoCollection) DeleteAll(ctx context.Context) (int64, error) {
	res, err := c.adapter.DeleteMany(ctx, c.name, bson.D{})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *mongoCollection) Ping(ctx context.Context) error {
	return c.adapter.Ping(ctx)
}

// valueText accepts values written as strings or as binary by other clients.
func valueText(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case primitive.Binary:
		return string(t.Data)
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// dialConnector opens its own client from the configured URL.
type dialConnector struct {
	cfg Config
	log logger.Logger

	mu      sync.Mutex
	adapter *mongodb.MongoDBAdapter
}

func newDialConnector(cfg Config, log logger.Logger) *dialConnector {
	return &dialConnector{cfg: cfg, log: log}
}

func (c *dialConnector) Connect(ctx context.Context, monitor Monitor) (Collection, error) {
	c.log.Debug("connecting via url", "url", RedactURL(c.cfg.URL))
	adapter, err := mongodb.NewMongoDBAdapter(ctx, mongodb.Config{
		URL:              c.cfg.URL,
		Database:         c.cfg.Database,
		ConnectTimeout:   c.cfg.ConnectTimeout,
		OperationTimeout: c.cfg.OperationTimeout,
		ServerMonitor:    topologyMonitor(monitor),
	}, c.log)
	if err != nil {
		return nil, err
	}
	if err := adapter.EnsureCollection(ctx, c.cfg.Collection); err != nil {
		_ = adapter.Close()
		return nil, err
	}

	c.mu.Lock()
	previous := c.adapter
	c.adapter = adapter
	c.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}
	return &mongoCollection{adapter: adapter, name: c.cfg.Collection}, nil
}

func (c *dialConnector) Close(ctx context.Context) error {
	c.mu.Lock()
	adapter := c.adapter
	c.adapter = nil
	c.mu.Unlock()
	if adapter == nil {
		return nil
	}
	return adapter.Close()
}

// clientConnector uses a client opened by the caller.
type clientConnector struct {
	cfg    Config
	client *mongo.Client
	log    logger.Logger
}

func (c *clientConnector) Connect(_ context.Context, _ Monitor) (Collection, error) {
	adapter, err := mongodb.NewMongoDBAdapterFromClient(c.client, c.cfg.Database, c.cfg.OperationTimeout, c.log)
	if err != nil {
		return nil, err
	}
	return &mongoCollection{adapter: adapter, name: c.cfg.Collection}, nil
}

// Close is a no-op: the caller owns the client.
func (c *clientConnector) Close(context.Context) error {
	return nil
}

var errNoWritableServer = errors.New("no writable mongodb server available")

// topologyMonitor reports loss when the topology has no writable server left
// and restoration when one reappears. Failures of individual secondaries are
// not a loss: reads and writes only go to the primary. Successful heartbeats
// also report restoration so that a store whose recovery ping failed retries;
// the store confirms with a primary ping before it reconnects.
func topologyMonitor(monitor Monitor) *event.ServerMonitor {
	if monitor == nil {
		return nil
	}
	return &event.ServerMonitor{
		TopologyDescriptionChanged: func(e *event.TopologyDescriptionChangedEvent) {
			if hasWritableServer(e.NewDescription) {
				monitor.ConnectionRestored()
				return
			}
			monitor.ConnectionLost(topologyError(e.NewDescription))
		},
		ServerHeartbeatSucceeded: func(*event.ServerHeartbeatSucceededEvent) {
			monitor.ConnectionRestored()
		},
	}
}

func hasWritableServer(topo description.Topology) bool {
	for _, srv := range topo.Servers {
		switch srv.Kind {
		case description.Standalone, description.RSPrimary, description.Mongos, description.LoadBalancer:
			return true
		}
	}
	return false
}

// topologyError returns the first server error, or errNoWritableServer.
func topologyError(topo description.Topology) error {
	for _, srv := range topo.Servers {
		if srv.LastError != nil {
			return fmt.Errorf("%w: %s: %w", errNoWritableServer, srv.Addr, srv.LastError)
		}
	}
	return errNoWritableServer
}

// RedactURL masks the password in a connection string for logging.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}

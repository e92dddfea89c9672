package mongostore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

const (
	// DefaultPrefix is prepended to every key when Config.Prefix is empty.
	DefaultPrefix = "autocache:"
	// DefaultDatabase names the database and collection when none is configured.
	DefaultDatabase = "autocache"
	// DefaultHost is used to build the connection URL when Config.URL is empty.
	DefaultHost = "localhost"
	// DefaultPort is used to build the connection URL when Config.URL is empty.
	DefaultPort = 27017
)

// Config controls how a Store connects and names its entries.
type Config struct {
	// Prefix is prepended to every key.
	Prefix string
	// Database is the target database. DB is accepted as an alias.
	Database string
	DB       string
	// Collection holds the entries; defaults to Database, DB or DefaultDatabase.
	Collection string

	// URL is the full connection string. When empty it is built from Host, Port and Database.
	// Its database path is used when neither Database nor DB is set.
	URL  string
	Host string
	Port int

	// Client is an already connected client. The store uses it as is and never disconnects it.
	Client *mongo.Client
	// Connector replaces the MongoDB backend entirely.
	Connector Connector

	ConnectTimeout   time.Duration
	OperationTimeout time.Duration

	Reconnect ReconnectConfig
}

// ReconnectConfig controls retries of the initial dial and recovery after connection loss.
type ReconnectConfig struct {
	// Disabled makes a failed dial or a lost connection permanent.
	Disabled        bool
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsedTime bounds the initial dial retries. Zero retries until Close.
	MaxElapsedTime time.Duration
}

// DefaultConfig returns the configuration used when no option is set.
func DefaultConfig() Config {
	return Config{
		Prefix:           DefaultPrefix,
		Database:         DefaultDatabase,
		Host:             DefaultHost,
		Port:             DefaultPort,
		ConnectTimeout:   5 * time.Second,
		OperationTimeout: 5 * time.Second,
		Reconnect: ReconnectConfig{
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
	}
}

// DatabaseName returns the database to use: Database, then DB, then the
// database named in URL, then DefaultDatabase.
func (c Config) DatabaseName() string {
	if name := c.configuredName(); name != "" {
		return name
	}
	if name := urlDatabase(c.URL); name != "" {
		return name
	}
	return DefaultDatabase
}

// CollectionName returns Collection, or the configured database name.
// A database taken from URL does not name the collection.
func (c Config) CollectionName() string {
	if name := strings.TrimSpace(c.Collection); name != "" {
		return name
	}
	if name := c.configuredName(); name != "" {
		return name
	}
	return DefaultDatabase
}

func (c Config) configuredName() string {
	for _, name := range []string{c.Database, c.DB} {
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	return ""
}

// urlDatabase returns the database path of a connection string, if any.
func urlDatabase(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	// Parsing a mongodb+srv URI resolves its SRV records; only the path is needed here.
	if rest, ok := strings.CutPrefix(raw, connstring.SchemeMongoDBSRV+"://"); ok {
		raw = connstring.SchemeMongoDB + "://" + rest
	}
	cs, err := connstring.Parse(raw)
	if err != nil {
		return ""
	}
	return cs.Database
}

// ConnectionURL returns Config.URL, or one built from host, port and database.
func (c Config) ConnectionURL() string {
	if url := strings.TrimSpace(c.URL); url != "" {
		return url
	}
	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = DefaultHost
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("mongodb://%s:%d/%s", host, port, c.DatabaseName())
}

// Validate checks option combinations that can never work.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("mongostore port %d out of range", c.Port)
	}
	if c.Client != nil && c.Connector != nil {
		return errors.New("mongostore client and connector are mutually exclusive")
	}
	if c.ConnectTimeout < 0 || c.OperationTimeout < 0 {
		return errors.New("mongostore timeouts cannot be negative")
	}
	return nil
}

// normalizeConfig fills zero values with defaults.
func normalizeConfig(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = defaults.Prefix
	}
	cfg.Collection = cfg.CollectionName()
	cfg.Database = cfg.DatabaseName()
	cfg.URL = cfg.ConnectionURL()
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.Reconnect.InitialInterval <= 0 {
		cfg.Reconnect.InitialInterval = defaults.Reconnect.InitialInterval
	}
	if cfg.Reconnect.MaxInterval <= 0 {
		cfg.Reconnect.MaxInterval = defaults.Reconnect.MaxInterval
	}
	if cfg.Reconnect.MaxInterval < cfg.Reconnect.InitialInterval {
		cfg.Reconnect.MaxInterval = cfg.Reconnect.InitialInterval
	}
	return cfg
}

func (r ReconnectConfig) backOff() backoff.BackOff {
	if r.Disabled {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.InitialInterval
	b.MaxInterval = r.MaxInterval
	b.MaxElapsedTime = r.MaxElapsedTime
	b.Reset()
	return b
}

package config

import (
	"time"

	"github.com/nimburion/autocache-mongo/pkg/cache/mongostore"
)

// Config is the root configuration of the autocache-mongo command.
type Config struct {
	Store StoreConfig `mapstructure:"store" yaml:"store"`
	Log   LogConfig   `mapstructure:"log" yaml:"log"`
}

// StoreConfig mirrors the options accepted by mongostore.New.
type StoreConfig struct {
	Prefix           string          `mapstructure:"prefix" yaml:"prefix"`
	Database         string          `mapstructure:"database" yaml:"database"`
	DB               string          `mapstructure:"db" yaml:"db"`
	Collection       string          `mapstructure:"collection" yaml:"collection"`
	URL              string          `mapstructure:"url" yaml:"url"`
	Host             string          `mapstructure:"host" yaml:"host"`
	Port             int             `mapstructure:"port" yaml:"port"`
	ConnectTimeout   time.Duration   `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	OperationTimeout time.Duration   `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	Reconnect        ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
}

// ReconnectConfig configures dial retries and recovery after connection loss.
type ReconnectConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time" yaml:"max_elapsed_time"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DefaultConfig returns the configuration used before file and env overrides.
// Database is left empty so that db, or the database in url, can still apply;
// mongostore falls back to its own default.
func DefaultConfig() *Config {
	store := mongostore.DefaultConfig()
	return &Config{
		Store: StoreConfig{
			Prefix:           store.Prefix,
			Host:             store.Host,
			Port:             store.Port,
			ConnectTimeout:   store.ConnectTimeout,
			OperationTimeout: store.OperationTimeout,
			Reconnect: ReconnectConfig{
				Enabled:         !store.Reconnect.Disabled,
				InitialInterval: store.Reconnect.InitialInterval,
				MaxInterval:     store.Reconnect.MaxInterval,
				MaxElapsedTime:  store.Reconnect.MaxElapsedTime,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// MongoStore converts the loaded settings into a mongostore.Config.
// Client and Connector are left unset; callers inject them when needed.
func (c StoreConfig) MongoStore() mongostore.Config {
	return mongostore.Config{
		Prefix:           c.Prefix,
		Database:         c.Database,
		DB:               c.DB,
		Collection:       c.Collection,
		URL:              c.URL,
		Host:             c.Host,
		Port:             c.Port,
		ConnectTimeout:   c.ConnectTimeout,
		OperationTimeout: c.OperationTimeout,
		Reconnect: mongostore.ReconnectConfig{
			Disabled:        !c.Reconnect.Enabled,
			InitialInterval: c.Reconnect.InitialInterval,
			MaxInterval:     c.Reconnect.MaxInterval,
			MaxElapsedTime:  c.Reconnect.MaxElapsedTime,
		},
	}
}

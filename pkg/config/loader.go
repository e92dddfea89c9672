package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// DefaultEnvPrefix is used when the loader is created without a prefix.
const DefaultEnvPrefix = "AUTOCACHE"

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "AUTOCACHE")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// Load loads configuration with precedence: ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()

	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration
func (l *ViperLoader) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	return cfg.Validate()
}

func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	// Store
	_ = v.BindEnv("store.prefix", l.prefixedEnv("STORE_PREFIX"))
	_ = v.BindEnv("store.database", l.prefixedEnv("STORE_DATABASE"))
	_ = v.BindEnv("store.db", l.prefixedEnv("STORE_DB"))
	_ = v.BindEnv("store.collection", l.prefixedEnv("STORE_COLLECTION"))
	_ = v.BindEnv("store.url", l.prefixedEnv("STORE_URL"), l.prefixedEnv("MONGO_URL"))
	_ = v.BindEnv("store.host", l.prefixedEnv("STORE_HOST"))
	_ = v.BindEnv("store.port", l.prefixedEnv("STORE_PORT"))
	_ = v.BindEnv("store.connect_timeout", l.prefixedEnv("STORE_CONNECT_TIMEOUT"))
	_ = v.BindEnv("store.operation_timeout", l.prefixedEnv("STORE_OPERATION_TIMEOUT"))

	// Reconnect
	_ = v.BindEnv("store.reconnect.enabled", l.prefixedEnv("STORE_RECONNECT_ENABLED"))
	_ = v.BindEnv("store.reconnect.initial_interval", l.prefixedEnv("STORE_RECONNECT_INITIAL_INTERVAL"))
	_ = v.BindEnv("store.reconnect.max_interval", l.prefixedEnv("STORE_RECONNECT_MAX_INTERVAL"))
	_ = v.BindEnv("store.reconnect.max_elapsed_time", l.prefixedEnv("STORE_RECONNECT_MAX_ELAPSED_TIME"))

	// Log
	_ = v.BindEnv("log.level", l.prefixedEnv("LOG_LEVEL"))
	_ = v.BindEnv("log.format", l.prefixedEnv("LOG_FORMAT"))
}

func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("store.prefix", cfg.Store.Prefix)
	v.SetDefault("store.database", cfg.Store.Database)
	v.SetDefault("store.db", cfg.Store.DB)
	v.SetDefault("store.collection", cfg.Store.Collection)
	v.SetDefault("store.url", cfg.Store.URL)
	v.SetDefault("store.host", cfg.Store.Host)
	v.SetDefault("store.port", cfg.Store.Port)
	v.SetDefault("store.connect_timeout", cfg.Store.ConnectTimeout)
	v.SetDefault("store.operation_timeout", cfg.Store.OperationTimeout)

	v.SetDefault("store.reconnect.enabled", cfg.Store.Reconnect.Enabled)
	v.SetDefault("store.reconnect.initial_interval", cfg.Store.Reconnect.InitialInterval)
	v.SetDefault("store.reconnect.max_interval", cfg.Store.Reconnect.MaxInterval)
	v.SetDefault("store.reconnect.max_elapsed_time", cfg.Store.Reconnect.MaxElapsedTime)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

package config

import (
	"fmt"
	"net/url"
	"strings"
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"json", "text"}
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	s := c.Store
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("store.port must be between 0 and 65535, got %d", s.Port)
	}
	if s.URL != "" {
		u, err := url.Parse(s.URL)
		if err != nil {
			return fmt.Errorf("store.url is not a valid URL: %w", err)
		}
		if u.Scheme != "mongodb" && u.Scheme != "mongodb+srv" {
			return fmt.Errorf("store.url must use the mongodb or mongodb+srv scheme, got %q", u.Scheme)
		}
	}
	if s.ConnectTimeout < 0 {
		return fmt.Errorf("store.connect_timeout cannot be negative")
	}
	if s.OperationTimeout < 0 {
		return fmt.Errorf("store.operation_timeout cannot be negative")
	}
	if s.Reconnect.Enabled {
		if s.Reconnect.InitialInterval < 0 || s.Reconnect.MaxInterval < 0 || s.Reconnect.MaxElapsedTime < 0 {
			return fmt.Errorf("store.reconnect intervals cannot be negative")
		}
		if s.Reconnect.MaxInterval > 0 && s.Reconnect.MaxInterval < s.Reconnect.InitialInterval {
			return fmt.Errorf("store.reconnect.max_interval must be >= store.reconnect.initial_interval")
		}
	}

	if !contains(validLogLevels, strings.ToLower(c.Log.Level)) {
		return fmt.Errorf("log.level must be one of %v, got %q", validLogLevels, c.Log.Level)
	}
	if !contains(validLogFormats, strings.ToLower(c.Log.Format)) {
		return fmt.Errorf("log.format must be one of %v, got %q", validLogFormats, c.Log.Format)
	}
	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

package config

import "time"

// Config holds client configuration values.
type Config struct {
	WSURL              string        `mapstructure:"ws_url" yaml:"ws_url"`
	APIBaseURL         string        `mapstructure:"api_base_url" yaml:"api_base_url"`
	LogLevel           string        `mapstructure:"log_level" yaml:"log_level"`
	RetryDelay         time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	HealthInterval     time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
	TokenRefreshMargin time.Duration `mapstructure:"token_refresh_margin" yaml:"token_refresh_margin"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		WSURL:              "ws://localhost:8080/ws",
		APIBaseURL:         "http://localhost:8080",
		LogLevel:           "info",
		RetryDelay:         5 * time.Second,
		HealthInterval:     30 * time.Second,
		TokenRefreshMargin: 30 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.WSURL != "" {
		c.WSURL = other.WSURL
	}
	if other.APIBaseURL != "" {
		c.APIBaseURL = other.APIBaseURL
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.RetryDelay != 0 {
		c.RetryDelay = other.RetryDelay
	}
	if other.HealthInterval != 0 {
		c.HealthInterval = other.HealthInterval
	}
	if other.TokenRefreshMargin != 0 {
		c.TokenRefreshMargin = other.TokenRefreshMargin
	}
}

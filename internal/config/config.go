// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds client configuration values loaded from file or environment variables.
type Config struct {
	APIBaseURL        string  `mapstructure:"API_BASE_URL"`
	PushURL           string  `mapstructure:"PUSH_URL"`
	RedisURL          string  `mapstructure:"REDIS_URL"`
	SearchDebounceMS  int     `mapstructure:"SEARCH_DEBOUNCE_MS"`
	PushReconnectMS   int     `mapstructure:"PUSH_RECONNECT_MS"`
	HTTPTimeoutMS     int     `mapstructure:"HTTP_TIMEOUT_MS"`
	FeedCacheTTLMin   int     `mapstructure:"FEED_CACHE_TTL_MINUTES"`
	LogLevel          string  `mapstructure:"LOG_LEVEL"`
	Env               string  `mapstructure:"APP_ENV"`
	TracingEnabled    bool    `mapstructure:"TRACING_ENABLED"`
	TracingService    string  `mapstructure:"TRACING_SERVICE_NAME"`
	TracingExporter   string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint      string  `mapstructure:"OTLP_ENDPOINT"`
	OTLPInsecure      bool    `mapstructure:"OTLP_INSECURE"`
	TracingSampleRate float64 `mapstructure:"TRACING_SAMPLE_RATE"`
}

// LoadConfig loads client configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The config file is optional; env vars and defaults cover everything.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env != "" && env != "development" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	viper.SetDefault("API_BASE_URL", "http://localhost:8375")
	viper.SetDefault("PUSH_URL", "ws://localhost:8375/ws")
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("SEARCH_DEBOUNCE_MS", 250)
	viper.SetDefault("PUSH_RECONNECT_MS", 2000)
	viper.SetDefault("HTTP_TIMEOUT_MS", 10000)
	viper.SetDefault("FEED_CACHE_TTL_MINUTES", 30)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_SERVICE_NAME", "feedsync")
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("OTLP_INSECURE", true)
	viper.SetDefault("TRACING_SAMPLE_RATE", 1.0)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	config.APIBaseURL = strings.TrimRight(strings.TrimSpace(config.APIBaseURL), "/")

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures that required configuration values are present and usable.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("API_BASE_URL is required")
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("API_BASE_URL must be an http(s) URL, got %q", c.APIBaseURL)
	}
	if c.PushURL != "" {
		p, err := url.Parse(c.PushURL)
		if err != nil || (p.Scheme != "ws" && p.Scheme != "wss") {
			return fmt.Errorf("PUSH_URL must be a ws(s) URL, got %q", c.PushURL)
		}
	}
	if c.SearchDebounceMS <= 0 {
		return errors.New("SEARCH_DEBOUNCE_MS must be positive")
	}
	if c.PushReconnectMS <= 0 {
		return errors.New("PUSH_RECONNECT_MS must be positive")
	}
	if c.HTTPTimeoutMS <= 0 {
		return errors.New("HTTP_TIMEOUT_MS must be positive")
	}

	isProduction := c.Env == "production" || c.Env == "prod"
	if isProduction {
		if strings.HasPrefix(c.APIBaseURL, "http://") {
			return errors.New("API_BASE_URL must use https in production")
		}
		if strings.HasPrefix(c.PushURL, "ws://") {
			return errors.New("PUSH_URL must use wss in production")
		}
	}
	if c.TracingEnabled {
		switch c.TracingExporter {
		case "", "stdout", "none":
		case "otlp":
			if c.OTLPEndpoint == "" {
				return errors.New("OTLP_ENDPOINT is required when TRACING_EXPORTER is otlp")
			}
		default:
			return fmt.Errorf("TRACING_EXPORTER must be stdout, otlp or none, got %q", c.TracingExporter)
		}
		if isProduction && c.TracingExporter == "otlp" && c.OTLPInsecure {
			return errors.New("OTLP_INSECURE must be false in production")
		}
	}

	return nil
}

// SearchDebounce returns the people-search debounce window.
func (c *Config) SearchDebounce() time.Duration {
	return time.Duration(c.SearchDebounceMS) * time.Millisecond
}

// PushReconnectDelay returns the delay between push channel reconnect attempts.
func (c *Config) PushReconnectDelay() time.Duration {
	return time.Duration(c.PushReconnectMS) * time.Millisecond
}

// HTTPTimeout returns the timeout applied to every backend API request.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutMS) * time.Millisecond
}

// FeedCacheTTL returns how long the last good feed snapshot is kept.
func (c *Config) FeedCacheTTL() time.Duration {
	return time.Duration(c.FeedCacheTTLMin) * time.Minute
}

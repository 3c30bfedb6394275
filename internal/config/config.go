// Package config loads server configuration from the environment, with an
// optional .env file for development. Priority: env vars > .env > defaults.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
type Config struct {
	// Server basics
	Addr         string `env:"CHAT_ADDR" envDefault:":3010"`
	NatsURL      string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	DirectoryURL string `env:"DIRECTORY_URL" envDefault:"http://localhost:8080"`

	// Auth
	JWTSecret string `env:"JWT_SECRET,required"`

	// Capacity
	MaxConnections int `env:"CHAT_MAX_CONNECTIONS" envDefault:"5000"`
	SendQueueSize  int `env:"CHAT_SEND_QUEUE_SIZE" envDefault:"256"`

	// Fan-out workers
	WorkerCount     int `env:"CHAT_WORKER_COUNT" envDefault:"16"`
	WorkerQueueSize int `env:"CHAT_WORKER_QUEUE_SIZE" envDefault:"1600"`

	// Inbound rate limiting, per connection
	InboundRate  float64 `env:"CHAT_INBOUND_RATE" envDefault:"10"`
	InboundBurst int     `env:"CHAT_INBOUND_BURST" envDefault:"100"`

	// Bus behaviour
	PublishTimeout      time.Duration `env:"CHAT_PUBLISH_TIMEOUT" envDefault:"2s"`
	BusReconnectWait    time.Duration `env:"CHAT_BUS_RECONNECT_WAIT" envDefault:"500ms"`
	BusMaxReconnectWait time.Duration `env:"CHAT_BUS_MAX_RECONNECT_WAIT" envDefault:"30s"`
	BusMaxReconnects    int           `env:"CHAT_BUS_MAX_RECONNECTS" envDefault:"-1"`

	// Directory behaviour
	DirectoryTimeout time.Duration `env:"DIRECTORY_TIMEOUT" envDefault:"5s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from .env and environment variables and validates
// it.
func Load() (*Config, error) {
	// Missing .env is fine; production supplies env vars directly.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("CHAT_ADDR is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("CHAT_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.SendQueueSize < 1 {
		return fmt.Errorf("CHAT_SEND_QUEUE_SIZE must be > 0, got %d", c.SendQueueSize)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("CHAT_WORKER_COUNT must be > 0, got %d", c.WorkerCount)
	}
	if c.InboundRate <= 0 {
		return fmt.Errorf("CHAT_INBOUND_RATE must be > 0, got %.1f", c.InboundRate)
	}
	if c.PublishTimeout <= 0 {
		return fmt.Errorf("CHAT_PUBLISH_TIMEOUT must be > 0, got %s", c.PublishTimeout)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs the loaded configuration with structured fields. The JWT
// secret is deliberately omitted.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("nats_url", c.NatsURL).
		Str("directory_url", c.DirectoryURL).
		Int("max_connections", c.MaxConnections).
		Int("send_queue_size", c.SendQueueSize).
		Int("worker_count", c.WorkerCount).
		Int("worker_queue_size", c.WorkerQueueSize).
		Float64("inbound_rate", c.InboundRate).
		Int("inbound_burst", c.InboundBurst).
		Dur("publish_timeout", c.PublishTimeout).
		Dur("directory_timeout", c.DirectoryTimeout).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}

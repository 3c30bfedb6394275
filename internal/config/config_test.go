package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	req := require.New(t)
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	req.NoError(err)
	req.Equal(":3010", cfg.Addr)
	req.Equal("nats://localhost:4222", cfg.NatsURL)
	req.Equal(5000, cfg.MaxConnections)
	req.Equal(2*time.Second, cfg.PublishTimeout)
	req.Equal(-1, cfg.BusMaxReconnects)
	req.Equal("info", cfg.LogLevel)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	req := require.New(t)

	valid := func() *Config {
		return &Config{
			Addr:            ":3010",
			JWTSecret:       "s",
			MaxConnections:  10,
			SendQueueSize:   16,
			WorkerCount:     2,
			InboundRate:     10,
			PublishTimeout:  time.Second,
			LogLevel:        "info",
			LogFormat:       "json",
		}
	}

	req.NoError(valid().Validate())

	broken := valid()
	broken.MaxConnections = 0
	req.Error(broken.Validate())

	broken = valid()
	broken.LogLevel = "verbose"
	req.Error(broken.Validate())

	broken = valid()
	broken.PublishTimeout = 0
	req.Error(broken.Validate())
}

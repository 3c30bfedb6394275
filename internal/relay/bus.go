package relay

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Conn is the slice of the NATS connection the relay uses. *nats.Conn
// satisfies it; tests substitute a fake.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	IsConnected() bool
}

// BusConfig controls the shared bus connection and its reconnect behaviour.
type BusConfig struct {
	URL              string
	MaxReconnects    int           // negative = retry forever
	ReconnectWait    time.Duration // base delay, doubled per attempt
	MaxReconnectWait time.Duration
}

// ConnectBus dials the shared bus. Reconnects use exponential backoff and
// the supplied callbacks observe the connection lifecycle so the subscriber
// can track its Listening/Degraded state.
//
// With RetryOnFailedConnect the initial dial also tolerates a bus that is
// down at process start: the server comes up degraded and recovers when the
// bus does.
func ConnectBus(cfg BusConfig, logger zerolog.Logger, onDisconnect func(error), onReconnect func()) (*nats.Conn, error) {
	busLogger := logger.With().Str("component", "bus").Logger()

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			delay := cfg.ReconnectWait
			for i := 0; i < attempts && delay < cfg.MaxReconnectWait; i++ {
				delay *= 2
			}
			if delay > cfg.MaxReconnectWait {
				delay = cfg.MaxReconnectWait
			}
			return delay
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			busLogger.Warn().Err(err).Msg("Bus disconnected")
			if onDisconnect != nil {
				onDisconnect(err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			busLogger.Info().Str("url", nc.ConnectedUrl()).Msg("Bus reconnected")
			if onReconnect != nil {
				onReconnect()
			}
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			busLogger.Error().Err(err).Msg("Bus error")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to bus at %s: %w", cfg.URL, err)
	}

	busLogger.Info().Str("url", cfg.URL).Msg("Bus connection established")
	return conn, nil
}

package relay

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/chat-relay/internal/metrics"
)

// Publisher puts already-persisted envelopes onto the shared bus. Publish is
// bounded by a flush timeout so a dead bus surfaces as ErrBusUnavailable
// instead of hanging the message-send path.
type Publisher struct {
	conn    Conn
	timeout time.Duration
	logger  zerolog.Logger
}

func NewPublisher(conn Conn, timeout time.Duration, logger zerolog.Logger) *Publisher {
	return &Publisher{
		conn:    conn,
		timeout: timeout,
		logger:  logger.With().Str("component", "relay_publisher").Logger(),
	}
}

// Publish serializes the envelope and emits it on the fixed subject. The
// caller must have persisted the message first; a failure here degrades live
// fan-out to other instances but loses no data.
func (p *Publisher) Publish(env Envelope) error {
	if !p.conn.IsConnected() {
		metrics.RelayPublishFailed()
		return fmt.Errorf("%w: not connected", ErrBusUnavailable)
	}

	data, err := env.Marshal()
	if err != nil {
		return err
	}

	if err := p.conn.Publish(Subject, data); err != nil {
		metrics.RelayPublishFailed()
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	if err := p.conn.FlushTimeout(p.timeout); err != nil {
		metrics.RelayPublishFailed()
		return fmt.Errorf("%w: flush: %v", ErrBusUnavailable, err)
	}

	metrics.RelayPublished()
	p.logger.Debug().
		Int64("room_id", env.RoomID).
		Str("sender", env.SenderEmail).
		Msg("Envelope published")
	return nil
}

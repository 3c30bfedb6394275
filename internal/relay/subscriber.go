package relay

import (
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/adred-codev/chat-relay/internal/metrics"
)

// State of the subscriber's bus attachment.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateListening
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Subscriber runs the single per-process receive loop on the shared bus.
// Every decoded envelope is handed to the onEnvelope callback (the local
// broker), regardless of which instance published it; self-originated
// envelopes are not filtered out. While Degraded, cross-instance fan-out is
// unavailable but local persistence and same-instance state keep working.
type Subscriber struct {
	conn       Conn
	onEnvelope func(Envelope)
	state      atomic.Int32
	sub        *nats.Subscription
	logger     zerolog.Logger
}

// NewSubscriber wires the receive loop to a delivery callback. The callback
// must tolerate duplicate envelopes; the bus guarantees at-least-once, not
// exactly-once.
func NewSubscriber(conn Conn, onEnvelope func(Envelope), logger zerolog.Logger) *Subscriber {
	s := &Subscriber{
		conn:       conn,
		onEnvelope: onEnvelope,
		logger:     logger.With().Str("component", "relay_subscriber").Logger(),
	}
	s.setState(StateDisconnected)
	return s
}

// Start subscribes to the fixed subject. The subscription survives bus
// reconnects; state transitions are driven by HandleDisconnect and
// HandleReconnect, which the bus connection invokes.
func (s *Subscriber) Start() error {
	s.setState(StateConnecting)

	sub, err := s.conn.Subscribe(Subject, s.handleMessage)
	if err != nil {
		s.setState(StateDegraded)
		return fmt.Errorf("subscribe to %q: %w", Subject, err)
	}
	s.sub = sub

	if s.conn.IsConnected() {
		s.setState(StateListening)
	} else {
		// Bus down at start; the connection retries with backoff and
		// HandleReconnect flips us to Listening.
		s.setState(StateDegraded)
	}

	s.logger.Info().
		Str("subject", Subject).
		Str("state", s.State().String()).
		Msg("Relay subscriber started")
	return nil
}

// Stop detaches from the bus.
func (s *Subscriber) Stop() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warn().Err(err).Msg("Unsubscribe failed")
		}
		s.sub = nil
	}
	s.setState(StateDisconnected)
}

// HandleDisconnect marks the subscriber Degraded. Reconnection runs with
// backoff inside the bus connection; no envelopes arrive until it recovers.
func (s *Subscriber) HandleDisconnect(err error) {
	if s.State() == StateDisconnected {
		return
	}
	s.setState(StateDegraded)
	s.logger.Warn().Err(err).Msg("Relay degraded: bus connection lost")
}

// HandleReconnect restores Listening after the bus recovers.
func (s *Subscriber) HandleReconnect() {
	if s.State() == StateDisconnected {
		return
	}
	s.setState(StateListening)
	s.logger.Info().Msg("Relay listening: bus connection restored")
}

func (s *Subscriber) State() State {
	return State(s.state.Load())
}

func (s *Subscriber) setState(state State) {
	s.state.Store(int32(state))
	metrics.SetRelayState(int32(state))
}

// handleMessage decodes one bus payload and forwards it for local delivery.
// A payload that does not decode is logged and dropped; it never stops the
// listener.
func (s *Subscriber) handleMessage(msg *nats.Msg) {
	metrics.RelayReceived()

	env, err := ParseEnvelope(msg.Data)
	if err != nil {
		metrics.RelayDecodeFailed()
		s.logger.Error().
			Err(err).
			Int("payload_bytes", len(msg.Data)).
			Msg("Dropping undecodable bus payload")
		return
	}

	s.onEnvelope(env)
}

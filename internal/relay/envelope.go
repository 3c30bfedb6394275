// Package relay fans persisted chat messages out across server instances
// over a shared NATS bus. One instance publishes an envelope onto a fixed
// subject; every live instance (the publisher included) receives it and hands
// it to its local broker. Delivery is at-least-once; persisted history is the
// source of truth for reconciliation.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Subject is the single logical channel shared by all server instances.
const Subject = "chat"

var (
	// ErrBusUnavailable is returned when the shared bus connection is down
	// or a publish cannot be confirmed within the configured timeout. The
	// message is already persisted at that point, so the caller treats it
	// as a partial failure: history is intact, live cross-instance fan-out
	// is degraded.
	ErrBusUnavailable = errors.New("shared bus unavailable")

	// ErrDecode is returned for bus payloads that are not valid envelopes.
	// The subscriber logs and drops them; the listener keeps running.
	ErrDecode = errors.New("invalid relay envelope")
)

// Envelope is the wire record placed on the shared bus, one per accepted
// send. The canonical form is UTF-8 JSON with these exact keys.
type Envelope struct {
	RoomID      int64  `json:"roomId"`
	SenderEmail string `json:"senderEmail"`
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp"` // unix milliseconds
}

// Marshal serializes the envelope to its canonical wire form.
func (e Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// ParseEnvelope decodes a bus payload.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return env, nil
}

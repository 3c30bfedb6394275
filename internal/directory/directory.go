// Package directory is the client side of the chat directory service, the
// external collaborator that owns rooms, participants and message
// persistence. The relay core never caches its answers; membership is
// re-checked on every subscribe.
package directory

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned when the directory service cannot be
	// reached. For sends this aborts the message before any relay publish
	// is attempted.
	ErrUnavailable = errors.New("chat directory service unavailable")

	// ErrNotFound is returned for unknown rooms or identities.
	ErrNotFound = errors.New("room or member not found")
)

// Message is one persisted chat message, as returned by history retrieval.
type Message struct {
	SenderEmail string `json:"senderEmail"`
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
}

// Service is the persistence collaborator contract. All calls are
// synchronous from the core's perspective; callers bound them with the
// request context.
type Service interface {
	// SaveMessage durably records a message and returns its id. The relay
	// only publishes an envelope after SaveMessage returns nil.
	SaveMessage(ctx context.Context, roomID int64, senderEmail, content string) (int64, error)

	// IsRoomParticipant reports whether identity is currently a member of
	// the room.
	IsRoomParticipant(ctx context.Context, identity string, roomID int64) (bool, error)

	// ChatHistory returns the persisted messages of a room in send order.
	// The caller must be a participant; the directory enforces that too.
	ChatHistory(ctx context.Context, identity string, roomID int64) ([]Message, error)
}

// Package broker is the in-process publish/subscribe fabric. It routes relay
// envelopes to every connection on this instance that currently holds a
// subscription for the envelope's room. Envelopes arrive from the relay
// subscriber at-least-once; the broker delivers whatever it is handed and
// performs no deduplication.
package broker

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/adred-codev/chat-relay/internal/metrics"
	"github.com/adred-codev/chat-relay/internal/relay"
)

// Subscriber is one locally connected client able to accept outbound frames.
// Send must not block: implementations enqueue onto a bounded buffer and
// return an error when the connection is beyond saving (closed, or
// persistently failing to drain). A Send error removes the subscription but
// never aborts delivery to the remaining subscribers of the same envelope.
type Subscriber interface {
	ID() int64
	Send(frame []byte) error
}

// outboundFrame is the wire shape of a delivered message, sent to the
// /topic/{roomId} destination of each subscribed connection.
type outboundFrame struct {
	Type        string         `json:"type"`
	Destination string         `json:"destination"`
	Body        relay.Envelope `json:"body"`
}

// room holds the subscriber set of one room behind its own lock, so delivery
// to unrelated rooms never serializes.
type room struct {
	mu   sync.RWMutex
	subs map[int64]Subscriber
}

// Broker maintains the subscription table and fans envelopes out to matching
// connections. Safe for concurrent use.
type Broker struct {
	rooms  sync.Map // roomID int64 → *room
	conns  sync.Map // connID int64 → *connRooms
	logger zerolog.Logger
}

type connRooms struct {
	mu    sync.Mutex
	rooms map[int64]struct{}
}

func New(logger zerolog.Logger) *Broker {
	return &Broker{
		logger: logger.With().Str("component", "broker").Logger(),
	}
}

// Subscribe binds a connection to a room topic until Unsubscribe or
// DropConnection.
func (b *Broker) Subscribe(roomID int64, sub Subscriber) {
	r := b.room(roomID)
	r.mu.Lock()
	r.subs[sub.ID()] = sub
	r.mu.Unlock()

	cr := b.connState(sub.ID())
	cr.mu.Lock()
	cr.rooms[roomID] = struct{}{}
	cr.mu.Unlock()

	b.logger.Debug().
		Int64("conn_id", sub.ID()).
		Int64("room_id", roomID).
		Msg("Subscription added")
}

// Unsubscribe removes one (connection, room) binding.
func (b *Broker) Unsubscribe(roomID, connID int64) {
	if v, ok := b.rooms.Load(roomID); ok {
		r := v.(*room)
		r.mu.Lock()
		delete(r.subs, connID)
		r.mu.Unlock()
	}
	if v, ok := b.conns.Load(connID); ok {
		cr := v.(*connRooms)
		cr.mu.Lock()
		delete(cr.rooms, roomID)
		cr.mu.Unlock()
	}
}

// DropConnection removes every subscription the connection holds. Called on
// disconnect; it affects only that connection's state.
func (b *Broker) DropConnection(connID int64) {
	v, ok := b.conns.LoadAndDelete(connID)
	if !ok {
		return
	}
	cr := v.(*connRooms)

	cr.mu.Lock()
	roomIDs := make([]int64, 0, len(cr.rooms))
	for roomID := range cr.rooms {
		roomIDs = append(roomIDs, roomID)
	}
	cr.rooms = map[int64]struct{}{}
	cr.mu.Unlock()

	for _, roomID := range roomIDs {
		if v, ok := b.rooms.Load(roomID); ok {
			r := v.(*room)
			r.mu.Lock()
			delete(r.subs, connID)
			r.mu.Unlock()
		}
	}
}

// Deliver pushes the envelope to every connection subscribed to its room.
// A failed subscriber is dropped and delivery continues; two deliveries of
// the same envelope produce two outbound frames per subscriber.
func (b *Broker) Deliver(env relay.Envelope) {
	v, ok := b.rooms.Load(env.RoomID)
	if !ok {
		return
	}
	r := v.(*room)

	frame, err := json.Marshal(outboundFrame{
		Type:        "message",
		Destination: fmt.Sprintf("/topic/%d", env.RoomID),
		Body:        env,
	})
	if err != nil {
		b.logger.Error().Err(err).Int64("room_id", env.RoomID).Msg("Failed to encode outbound frame")
		return
	}

	r.mu.RLock()
	targets := make([]Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		targets = append(targets, sub)
	}
	r.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.Send(frame); err != nil {
			metrics.DroppedDelivery("send_failed")
			b.logger.Warn().
				Int64("conn_id", sub.ID()).
				Int64("room_id", env.RoomID).
				Err(err).
				Msg("Removing failed subscriber")
			b.DropConnection(sub.ID())
			continue
		}
		metrics.Delivered()
	}
}

// Subscriptions reports how many connections are subscribed to a room.
func (b *Broker) Subscriptions(roomID int64) int {
	v, ok := b.rooms.Load(roomID)
	if !ok {
		return 0
	}
	r := v.(*room)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (b *Broker) room(roomID int64) *room {
	if v, ok := b.rooms.Load(roomID); ok {
		return v.(*room)
	}
	v, _ := b.rooms.LoadOrStore(roomID, &room{subs: make(map[int64]Subscriber)})
	return v.(*room)
}

func (b *Broker) connState(connID int64) *connRooms {
	if v, ok := b.conns.Load(connID); ok {
		return v.(*connRooms)
	}
	v, _ := b.conns.LoadOrStore(connID, &connRooms{rooms: make(map[int64]struct{})})
	return v.(*connRooms)
}

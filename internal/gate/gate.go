// Package gate implements the authentication and authorization check that
// runs in front of every inbound frame, before it reaches the broker or the
// message handlers. It is the Go counterpart of a channel interceptor: every
// connect and subscribe is inspected, and rejected frames never travel
// further.
package gate

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/adred-codev/chat-relay/internal/auth"
	"github.com/adred-codev/chat-relay/internal/metrics"
)

// MembershipChecker answers whether an identity currently belongs to a room.
// Implemented by the directory service client; never cached here.
type MembershipChecker interface {
	IsRoomParticipant(ctx context.Context, identity string, roomID int64) (bool, error)
}

// Gate validates credentials and room membership. It holds no cross-event
// state: every verdict derives from the frame's own headers plus a membership
// lookup, so a single Gate is safe for concurrent use by all connections.
type Gate struct {
	tokens     *auth.Validator
	membership MembershipChecker
	logger     zerolog.Logger
}

func New(tokens *auth.Validator, membership MembershipChecker, logger zerolog.Logger) *Gate {
	return &Gate{
		tokens:     tokens,
		membership: membership,
		logger:     logger.With().Str("component", "gate").Logger(),
	}
}

// AuthorizeConnect validates the Authorization header of a connect frame and
// returns the authenticated identity. A missing or non-Bearer header fails
// before the token is even parsed.
func (g *Gate) AuthorizeConnect(authorization string) (string, error) {
	token, err := auth.BearerToken(authorization)
	if err != nil {
		g.reject("connect", "", err)
		return "", err
	}

	identity, expiry, err := g.tokens.Validate(token)
	if err != nil {
		g.reject("connect", "", err)
		return "", err
	}

	g.logger.Info().
		Str("event", "connect").
		Str("identity", identity).
		Time("token_expiry", expiry).
		Msg("Connection authenticated")
	return identity, nil
}

// AuthorizeSubscribe re-validates the credential (long-lived connections can
// outlive their token, so the connect-time verdict is never reused), parses
// the room id out of the destination path and checks membership. Only when
// all three pass does the subscribe proceed.
func (g *Gate) AuthorizeSubscribe(ctx context.Context, authorization, destination string) (string, int64, error) {
	token, err := auth.BearerToken(authorization)
	if err != nil {
		g.reject("subscribe", "", err)
		return "", 0, err
	}

	identity, _, err := g.tokens.Validate(token)
	if err != nil {
		g.reject("subscribe", "", err)
		return "", 0, err
	}

	roomID, err := ParseSubscribeRoom(destination)
	if err != nil {
		g.reject("subscribe", identity, err)
		return "", 0, err
	}

	member, err := g.membership.IsRoomParticipant(ctx, identity, roomID)
	if err != nil {
		g.logger.Error().
			Str("event", "subscribe").
			Str("identity", identity).
			Int64("room_id", roomID).
			Err(err).
			Msg("Membership check failed")
		return "", 0, fmt.Errorf("membership check: %w", err)
	}
	if !member {
		err := fmt.Errorf("%w: %s in room %d", auth.ErrForbidden, identity, roomID)
		g.reject("subscribe", identity, err)
		return "", 0, err
	}

	g.logger.Info().
		Str("event", "subscribe").
		Str("identity", identity).
		Int64("room_id", roomID).
		Msg("Subscription authorized")
	return identity, roomID, nil
}

func (g *Gate) reject(event, identity string, err error) {
	reason := auth.RejectionReason(err)
	metrics.AuthRejected(event, reason)
	g.logger.Warn().
		Str("event", event).
		Str("identity", identity).
		Str("reason", reason).
		Err(err).
		Msg("Frame rejected")
}

// ParseSubscribeRoom extracts the room id from a subscription destination of
// the form /sub/chat/{roomId}.
func ParseSubscribeRoom(destination string) (int64, error) {
	parts := strings.Split(strings.TrimPrefix(destination, "/"), "/")
	if len(parts) != 3 || parts[0] != "sub" || parts[1] != "chat" {
		return 0, fmt.Errorf("%w: %q", auth.ErrBadDestination, destination)
	}
	return parseRoomID(parts[2], destination)
}

// ParsePublishRoom extracts the room id from a send destination of the form
// /pub/{roomId}.
func ParsePublishRoom(destination string) (int64, error) {
	parts := strings.Split(strings.TrimPrefix(destination, "/"), "/")
	if len(parts) != 2 || parts[0] != "pub" {
		return 0, fmt.Errorf("%w: %q", auth.ErrBadDestination, destination)
	}
	return parseRoomID(parts[1], destination)
}

func parseRoomID(segment, destination string) (int64, error) {
	roomID, err := strconv.ParseInt(segment, 10, 64)
	if err != nil || roomID < 0 {
		return 0, fmt.Errorf("%w: %q", auth.ErrBadDestination, destination)
	}
	return roomID, nil
}

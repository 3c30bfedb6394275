package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adred-codev/chat-relay/internal/auth"
	"github.com/adred-codev/chat-relay/internal/directory"
	"github.com/adred-codev/chat-relay/internal/gate"
	"github.com/adred-codev/chat-relay/internal/metrics"
	"github.com/adred-codev/chat-relay/internal/relay"
)

// handleFrame dispatches one inbound frame. A non-nil return tears the
// connection down; authorization failures answer with an error frame and
// keep the socket open so the client can retry with a fresh token.
func (s *Server) handleFrame(c *Client, raw []byte) error {
	if !c.limiter.Allow() {
		metrics.RateLimited()
		s.logger.Warn().
			Int64("conn_id", c.id).
			Str("identity", c.identity).
			Msg("Frame dropped by rate limiter")
		return nil
	}
	metrics.FrameReceived()

	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("malformed frame: %w", err)
	}

	switch f.Type {
	case frameConnect:
		return s.handleConnect(c, f)
	case frameSubscribe:
		return s.handleSubscribe(c, f)
	case frameUnsubscribe:
		return s.handleUnsubscribe(c, f)
	case frameSend:
		return s.handleSend(c, f)
	case frameHistory:
		return s.handleHistory(c, f)
	case frameDisconnect:
		return errClientDisconnect
	default:
		return fmt.Errorf("unknown frame type %q", f.Type)
	}
}

func (s *Server) handleConnect(c *Client, f frame) error {
	identity, err := s.gate.AuthorizeConnect(f.authorization())
	if err != nil {
		c.enqueue(newErrorFrame(auth.RejectionReason(err), "connect rejected"))
		return nil
	}

	c.identity = identity
	c.enqueue(connectedFrame{Type: "connected", Identity: identity})

	s.logger.Info().
		Int64("conn_id", c.id).
		Str("identity", identity).
		Msg("Client authenticated")
	return nil
}

func (s *Server) handleSubscribe(c *Client, f frame) error {
	if c.identity == "" {
		c.enqueue(newErrorFrame("missing_credential", "connect before subscribing"))
		return nil
	}

	identity, roomID, err := s.gate.AuthorizeSubscribe(c.ctx, f.authorization(), f.Destination)
	if err != nil {
		c.enqueue(newErrorFrame(auth.RejectionReason(err), "subscribe rejected"))
		return nil
	}
	if identity != c.identity {
		c.enqueue(newErrorFrame("forbidden", "token identity does not match session"))
		return nil
	}

	s.broker.Subscribe(roomID, c)
	c.enqueue(subscribedFrame{Type: "subscribed", Destination: f.Destination})

	s.logger.Info().
		Int64("conn_id", c.id).
		Str("identity", c.identity).
		Int64("room_id", roomID).
		Msg("Subscribed to room")
	return nil
}

func (s *Server) handleUnsubscribe(c *Client, f frame) error {
	roomID, err := gate.ParseSubscribeRoom(f.Destination)
	if err != nil {
		c.enqueue(newErrorFrame(auth.RejectionReason(err), "unsubscribe rejected"))
		return nil
	}
	s.broker.Unsubscribe(roomID, c.id)
	return nil
}

// handleSend persists the message through the directory and only then hands
// it to the relay. A persistence failure therefore never produces a relayed
// message, and a relay failure still leaves the message stored and
// retrievable through history.
func (s *Server) handleSend(c *Client, f frame) error {
	if c.identity == "" {
		c.enqueue(newErrorFrame("missing_credential", "connect before sending"))
		return nil
	}

	roomID, err := gate.ParsePublishRoom(f.Destination)
	if err != nil {
		c.enqueue(newErrorFrame("bad_destination", "unrecognized publish destination"))
		return nil
	}

	var body chatMessageBody
	if err := json.Unmarshal(f.Body, &body); err != nil {
		c.enqueue(newErrorFrame("malformed", "invalid message body"))
		return nil
	}
	if err := validate.Struct(body); err != nil {
		c.enqueue(newErrorFrame("malformed", "invalid message body"))
		return nil
	}
	if body.SenderEmail != c.identity {
		c.enqueue(newErrorFrame("forbidden", "sender does not match authenticated identity"))
		return nil
	}

	messageID, err := s.directory.SaveMessage(c.ctx, roomID, body.SenderEmail, body.Message)
	if err != nil {
		s.logger.Error().
			Err(err).
			Int64("conn_id", c.id).
			Int64("room_id", roomID).
			Msg("Message persistence failed")
		c.enqueue(newErrorFrame("internal", "message could not be stored"))
		return nil
	}
	metrics.MessagePersisted()

	env := relay.Envelope{
		RoomID:      roomID,
		SenderEmail: body.SenderEmail,
		Message:     body.Message,
		Timestamp:   time.Now().UnixMilli(),
	}
	relayErr := s.publisher.Publish(env)
	if relayErr != nil {
		s.logger.Error().
			Err(relayErr).
			Int64("room_id", roomID).
			Int64("message_id", messageID).
			Msg("Relay publish failed, message stored but not fanned out")
	}

	c.enqueue(receiptFrame{Type: "receipt", MessageID: messageID, Relayed: relayErr == nil})
	return nil
}

func (s *Server) handleHistory(c *Client, f frame) error {
	if c.identity == "" {
		c.enqueue(newErrorFrame("missing_credential", "connect before requesting history"))
		return nil
	}

	roomID, err := gate.ParseSubscribeRoom(f.Destination)
	if err != nil {
		c.enqueue(newErrorFrame(auth.RejectionReason(err), "history rejected"))
		return nil
	}

	messages, err := s.directory.ChatHistory(c.ctx, c.identity, roomID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			c.enqueue(newErrorFrame("bad_destination", "unknown room"))
			return nil
		}
		c.enqueue(newErrorFrame("internal", "history unavailable"))
		return nil
	}
	if messages == nil {
		messages = []directory.Message{}
	}

	c.enqueue(historyFrame{Type: "history", Destination: f.Destination, Body: messages})
	return nil
}

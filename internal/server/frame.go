package server

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/adred-codev/chat-relay/internal/directory"
)

// Inbound frame types. The transport is a persistent WebSocket carrying one
// JSON frame per text message.
const (
	frameConnect     = "connect"
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameSend        = "send"
	frameHistory     = "history"
	frameDisconnect  = "disconnect"
)

// frame is the envelope of every inbound client message.
//
//	{"type":"connect","headers":{"Authorization":"Bearer <token>"}}
//	{"type":"subscribe","destination":"/sub/chat/42","headers":{...}}
//	{"type":"send","destination":"/pub/42","body":{"senderEmail":"...","message":"..."}}
type frame struct {
	Type        string            `json:"type"`
	Destination string            `json:"destination,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        json.RawMessage   `json:"body,omitempty"`
}

func (f frame) authorization() string {
	return f.Headers["Authorization"]
}

// chatMessageBody is the payload of a send frame.
type chatMessageBody struct {
	SenderEmail string `json:"senderEmail" validate:"required,email"`
	Message     string `json:"message" validate:"required,max=4000"`
}

var validate = validator.New()

// Outbound control frames.

type connectedFrame struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type subscribedFrame struct {
	Type        string `json:"type"`
	Destination string `json:"destination"`
}

type receiptFrame struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
	Relayed   bool   `json:"relayed"`
}

type historyFrame struct {
	Type        string              `json:"type"`
	Destination string              `json:"destination"`
	Body        []directory.Message `json:"body"`
}

func newErrorFrame(code, message string) errorFrame {
	return errorFrame{Type: "error", Code: code, Message: message}
}

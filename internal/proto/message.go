package proto

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello   = "hello"
	InboundTypeJoin    = "join-channel"
	InboundTypeLeave   = "leave-channel"
	InboundTypeMessage = "send-message"

	OutboundTypeWelcome        = "welcome"
	OutboundTypeReceiveMessage = "receive-message"
	OutboundTypeUserJoined     = "user-joined"
	OutboundTypeUserLeft       = "user-left"
	OutboundTypeHistory        = "history"
	OutboundTypeJoined         = "joined"
	OutboundTypeLeft           = "left"
	OutboundTypeError          = "error"
)

// Protocol-level error codes. Domain codes come from the core package.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnknownType        = "unknown_type"
	ErrCodeUnsupportedVersion = "unsupported_version"
	ErrCodeUnauthenticated    = "unauthenticated"
)

// Request is one of the closed set of inbound variants.
type Request interface {
	requestType() string
}

// HelloData authenticates the connection. It must be the first frame.
type HelloData struct {
	Token    string `json:"token"`
	Protocol int    `json:"protocol,omitempty"`
}

// JoinChannelData requests to join a channel's live room.
type JoinChannelData struct {
	ChannelID string `json:"channelId"`
}

// LeaveChannelData requests to leave a channel's live room.
type LeaveChannelData struct {
	ChannelID string `json:"channelId"`
}

// SendMessageData is a chat message from the client.
type SendMessageData struct {
	ChannelID string `json:"channelId"`
	Content   string `json:"content"`
}

func (HelloData) requestType() string        { return InboundTypeHello }
func (JoinChannelData) requestType() string  { return InboundTypeJoin }
func (LeaveChannelData) requestType() string { return InboundTypeLeave }
func (SendMessageData) requestType() string  { return InboundTypeMessage }

// Parse decodes the envelope payload into its typed variant and validates required fields.
// Unknown fields are rejected.
func Parse(in Inbound) (Request, *Error) {
	switch in.Type {
	case InboundTypeHello:
		var hello HelloData
		if err := decodeStrict(in.Data, &hello); err != nil {
			return nil, badRequest("malformed hello")
		}
		if hello.Protocol != 0 && hello.Protocol != ProtocolVersion {
			return nil, &Error{Code: ErrCodeUnsupportedVersion, Msg: "unsupported protocol version"}
		}
		if strings.TrimSpace(hello.Token) == "" {
			return nil, &Error{Code: ErrCodeUnauthenticated, Msg: "token is required"}
		}
		return hello, nil
	case InboundTypeJoin:
		var join JoinChannelData
		if err := decodeStrict(in.Data, &join); err != nil {
			return nil, badRequest("malformed join-channel")
		}
		if join.ChannelID == "" {
			return nil, badRequest("channelId is required")
		}
		return join, nil
	case InboundTypeLeave:
		var leave LeaveChannelData
		if err := decodeStrict(in.Data, &leave); err != nil {
			return nil, badRequest("malformed leave-channel")
		}
		if leave.ChannelID == "" {
			return nil, badRequest("channelId is required")
		}
		return leave, nil
	case InboundTypeMessage:
		var msg SendMessageData
		if err := decodeStrict(in.Data, &msg); err != nil {
			return nil, badRequest("malformed send-message")
		}
		if msg.ChannelID == "" {
			return nil, badRequest("channelId is required")
		}
		return msg, nil
	case "":
		return nil, badRequest("type is required")
	default:
		return nil, &Error{Code: ErrCodeUnknownType, Msg: "unknown message type"}
	}
}

func decodeStrict(data json.RawMessage, v any) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func badRequest(msg string) *Error {
	return &Error{Code: ErrCodeBadRequest, Msg: msg}
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Welcome acknowledges a successful hello.
type Welcome struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	IsAdmin     bool   `json:"isAdmin,omitempty"`
	Protocol    int    `json:"protocol"`
}

// ChatMessage is a message as delivered to clients.
type ChatMessage struct {
	ID           int64     `json:"id,omitempty"`
	ChannelID    string    `json:"channelId"`
	AuthorUserID string    `json:"authorUserId,omitempty"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
	IsSystem     bool      `json:"isSystem"`
}

// Presence notifies that a user joined or left a channel's room.
type Presence struct {
	ChannelID   string `json:"channelId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// History carries recent messages, oldest first.
type History struct {
	ChannelID string        `json:"channelId"`
	Messages  []ChatMessage `json:"messages"`
}

// ChannelAck confirms a join or leave.
type ChannelAck struct {
	ChannelID string `json:"channelId"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code      string `json:"code"`
	Msg       string `json:"msg"`
	ChannelID string `json:"channelId,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Msg
}

// ErrorFrame wraps an error in an outbound envelope.
func ErrorFrame(e *Error) Outbound {
	return Outbound{Type: OutboundTypeError, Data: e}
}

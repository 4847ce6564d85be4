package http

import (
	"github.com/vovakirdan/channelchat-server/internal/core"
	"github.com/vovakirdan/channelchat-server/internal/proto"
)

// requestToCommand maps a parsed request onto a hub command. Hello is handled
// by the connection handshake and never reaches the hub.
func requestToCommand(req proto.Request) (*core.Command, *proto.Error) {
	switch r := req.(type) {
	case proto.JoinChannelData:
		return &core.Command{Kind: core.CommandJoinChannel, ChannelID: r.ChannelID}, nil
	case proto.LeaveChannelData:
		return &core.Command{Kind: core.CommandLeaveChannel, ChannelID: r.ChannelID}, nil
	case proto.SendMessageData:
		return &core.Command{Kind: core.CommandSendMessage, ChannelID: r.ChannelID, Content: r.Content}, nil
	case proto.HelloData:
		return nil, &proto.Error{Code: proto.ErrCodeBadRequest, Msg: "already authenticated"}
	default:
		return nil, &proto.Error{Code: proto.ErrCodeUnknownType, Msg: "unknown message type"}
	}
}

func chatMessage(m core.Message) proto.ChatMessage {
	return proto.ChatMessage{
		ID:           m.ID,
		ChannelID:    m.ChannelID,
		AuthorUserID: m.AuthorUserID,
		Username:     m.Username,
		DisplayName:  m.DisplayName,
		Avatar:       m.Avatar,
		Content:      m.Content,
		Timestamp:    m.Timestamp,
		IsSystem:     m.IsSystem,
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventReceiveMessage:
		return proto.Outbound{Type: proto.OutboundTypeReceiveMessage, Data: chatMessage(event.Message)}
	case core.EventUserJoined:
		return proto.Outbound{
			Type: proto.OutboundTypeUserJoined,
			Data: proto.Presence{ChannelID: event.ChannelID, UserID: event.UserID, DisplayName: event.DisplayName},
		}
	case core.EventUserLeft:
		return proto.Outbound{
			Type: proto.OutboundTypeUserLeft,
			Data: proto.Presence{ChannelID: event.ChannelID, UserID: event.UserID, DisplayName: event.DisplayName},
		}
	case core.EventHistory:
		messages := make([]proto.ChatMessage, 0, len(event.Messages))
		for _, msg := range event.Messages {
			messages = append(messages, chatMessage(msg))
		}
		return proto.Outbound{
			Type: proto.OutboundTypeHistory,
			Data: proto.History{ChannelID: event.ChannelID, Messages: messages},
		}
	case core.EventJoined:
		return proto.Outbound{Type: proto.OutboundTypeJoined, Data: proto.ChannelAck{ChannelID: event.ChannelID}}
	case core.EventLeft:
		return proto.Outbound{Type: proto.OutboundTypeLeft, Data: proto.ChannelAck{ChannelID: event.ChannelID}}
	case core.EventError:
		if event.Error == nil {
			return proto.ErrorFrame(&proto.Error{Code: core.ErrCodeInternal, Msg: "unknown error", ChannelID: event.ChannelID})
		}
		return proto.ErrorFrame(&proto.Error{Code: event.Error.Code, Msg: event.Error.Message, ChannelID: event.ChannelID})
	default:
		return proto.ErrorFrame(&proto.Error{Code: core.ErrCodeInternal, Msg: "unsupported event"})
	}
}

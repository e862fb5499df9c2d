package http

import (
	"encoding/json"

	"github.com/vovakirdan/squadup-relay/internal/core"
	"github.com/vovakirdan/squadup-relay/internal/proto"
	"github.com/vovakirdan/squadup-relay/internal/store"
)

func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Rejected) {
	switch inbound.Type {
	case proto.TypeMessage:
		var msg proto.ChatMessage
		if err := json.Unmarshal(inbound.Data, &msg); err != nil {
			return nil, rejected(core.ErrCodeBadRequest, "message payload must be an object", inbound.Type)
		}
		return &core.Command{
			Kind:    core.CommandGlobalMessage,
			Message: messageFromProto(msg),
		}, nil
	case proto.TypeJoinRoom, proto.TypeLeaveRoom:
		var room string
		if err := json.Unmarshal(inbound.Data, &room); err != nil {
			return nil, rejected(core.ErrCodeBadRequest, "room id must be a string", inbound.Type)
		}
		if room == "" {
			return nil, rejected(core.ErrCodeRoomRequired, core.ErrRoomRequired.Error(), inbound.Type)
		}
		kind := core.CommandJoinRoom
		if inbound.Type == proto.TypeLeaveRoom {
			kind = core.CommandLeaveRoom
		}
		return &core.Command{Kind: kind, Room: room}, nil
	case proto.TypeRoomMessage:
		var data proto.RoomMessageData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, rejected(core.ErrCodeBadRequest, "room-message payload must be an object", inbound.Type)
		}
		if data.RoomID == "" {
			return nil, rejected(core.ErrCodeRoomRequired, core.ErrRoomRequired.Error(), inbound.Type)
		}
		if data.Message == nil {
			return nil, rejected(core.ErrCodeBadRequest, "message is required", inbound.Type)
		}
		return &core.Command{
			Kind:    core.CommandRoomMessage,
			Room:    data.RoomID,
			Message: messageFromProto(*data.Message),
		}, nil
	default:
		return nil, rejected(core.ErrCodeUnknownEvent, "unknown event type", inbound.Type)
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventMessage:
		return proto.Outbound{Type: proto.TypeMessage, Data: messageToProto(event.Message)}
	case core.EventRoomMessage:
		// Room members get the bare message, without the room id.
		return proto.Outbound{Type: proto.TypeRoomMessage, Data: messageToProto(event.Message)}
	case core.EventRejected:
		rej := proto.Rejected{Code: core.ErrCodeBadRequest, Event: event.Command.String()}
		if event.Error != nil {
			rej.Code = event.Error.Code
			rej.Reason = event.Error.Message
		}
		return proto.Outbound{Type: proto.TypeRejected, Data: rej}
	default:
		return proto.Outbound{Type: "unknown"}
	}
}

func rejected(code, reason, event string) *proto.Rejected {
	return &proto.Rejected{Code: code, Reason: reason, Event: event}
}

func messageFromProto(m proto.ChatMessage) core.Message {
	return core.Message{
		ID:        m.ID,
		UserID:    m.UserID,
		Username:  m.Username,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}

func messageToProto(m core.Message) proto.ChatMessage {
	return proto.ChatMessage{
		ID:        m.ID,
		UserID:    m.UserID,
		Username:  m.Username,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}

func storedToProto(m *store.Message) proto.StoredMessage {
	return proto.StoredMessage{
		ID:        m.ID,
		RoomID:    m.RoomID,
		UserID:    m.UserID,
		Content:   m.Content,
		Type:      string(m.Type),
		CreatedAt: m.CreatedAt,
		Username:  m.Username,
	}
}

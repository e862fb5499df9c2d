package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for frames read off a socket. Frames are symmetric,
// so clients decode server frames with the same type.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Outbound is the envelope for frames written to a socket.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

const (
	// TypeMessage is a global chat message, client->server and server->all.
	TypeMessage = "message"
	// TypeJoinRoom carries a bare room id string.
	TypeJoinRoom = "join-room"
	// TypeLeaveRoom carries a bare room id string.
	TypeLeaveRoom = "leave-room"
	// TypeRoomMessage is RoomMessageData inbound and a bare ChatMessage outbound.
	TypeRoomMessage = "room-message"
	// TypeRejected is only sent when the relay runs with reject_malformed.
	TypeRejected = "rejected"
	// TypeInsert is pushed on the realtime feed for every persisted message.
	TypeInsert = "insert"
)

// ChatMessage is the relay wire form of a chat message.
type ChatMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomMessageData is the inbound payload of a room-message frame.
type RoomMessageData struct {
	RoomID  string       `json:"roomId"`
	Message *ChatMessage `json:"message"`
}

// Rejected tells a sender why its frame was dropped.
type Rejected struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
	Event  string `json:"event,omitempty"`
}

// StoredMessage is a persisted message as returned by the store API and the
// realtime feed. A nil UserID marks a system message.
type StoredMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    *string   `json:"user_id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Username  string    `json:"username"`
}

// TypeSubscribed is the first frame of the realtime feed, sent once the
// subscription is live.
const TypeSubscribed = "subscribed"

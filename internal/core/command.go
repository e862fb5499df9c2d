package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandGlobalMessage broadcasts a chat message to every connected client.
	CommandGlobalMessage CommandKind = iota
	// CommandJoinRoom subscribes the client to a room.
	CommandJoinRoom
	// CommandLeaveRoom unsubscribes the client from a room.
	CommandLeaveRoom
	// CommandRoomMessage delivers a chat message to the room's current members.
	CommandRoomMessage
)

func (k CommandKind) String() string {
	switch k {
	case CommandGlobalMessage:
		return "message"
	case CommandJoinRoom:
		return "join-room"
	case CommandLeaveRoom:
		return "leave-room"
	case CommandRoomMessage:
		return "room-message"
	default:
		return "unknown"
	}
}

// Command represents an action requested by a client.
type Command struct {
	Kind    CommandKind
	Room    string
	Message Message
}

package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventMessage carries a global chat message.
	EventMessage EventKind = iota
	// EventRoomMessage carries a chat message for one room.
	EventRoomMessage
	// EventRejected tells the sender its command was dropped and why.
	EventRejected
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind    EventKind
	Room    string
	Command CommandKind // for EventRejected
	Message Message
	Error   *CoreError
}

package core

import "time"

// Message is the relay's view of a chat message. The relay never persists it.
type Message struct {
	ID        string
	Room      string
	UserID    string
	Username  string
	Content   string
	Timestamp time.Time
}

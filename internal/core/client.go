package core

// DefaultClientBuffer is the size of a client's command and event queues.
const DefaultClientBuffer = 256

// Client is one live relay connection as seen by the core layer.
// Rooms is owned by the hub loop and must not be touched elsewhere.
type Client struct {
	ID       string
	Commands chan *Command
	Events   chan *Event

	rooms map[string]struct{}
	gone  chan struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	return &Client{
		ID:       id,
		Commands: make(chan *Command, buffer),
		Events:   make(chan *Event, buffer),
		rooms:    make(map[string]struct{}),
		gone:     make(chan struct{}),
	}
}

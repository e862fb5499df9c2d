package core

import "sort"

// Room is the transient fan-out group for one room id. It has no existence
// beyond the connections currently joined to it.
type Room struct {
	ID      string
	clients map[*Client]struct{}
}

// NewRoom constructs a room with no clients.
func NewRoom(id string) *Room {
	return &Room{
		ID:      id,
		clients: make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	return true
}

// Broadcast queues an event for every client in the room and returns the
// clients whose queue was full.
func (r *Room) Broadcast(event *Event) []*Client {
	var dropped []*Client
	for client := range r.clients {
		if !deliver(client, event) {
			dropped = append(dropped, client)
		}
	}
	return dropped
}

// Members returns the ids of the clients in the room, sorted.
func (r *Room) Members() []string {
	ids := make([]string, 0, len(r.clients))
	for client := range r.clients {
		ids = append(ids, client.ID)
	}
	sort.Strings(ids)
	return ids
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}

func deliver(client *Client, event *Event) bool {
	select {
	case client.Events <- event:
		return true
	default:
		return false
	}
}

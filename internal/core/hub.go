package core

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
)

const inboxSize = 1024

// Options tunes hub behavior.
type Options struct {
	// RejectMalformed sends an EventRejected back to the sender instead of
	// dropping an invalid command silently.
	RejectMalformed bool
}

type inbound struct {
	client *Client
	cmd    *Command
}

// Hub owns the connection registry and room membership. All of its state is
// mutated only by the goroutine running Run, so commands are handled one at a
// time in the order they reach the inbox.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	inbox      chan inbound
	queries    chan func()
	done       chan struct{}

	clients map[*Client]struct{}
	rooms   map[string]*Room
	opts    Options
	log     *zerolog.Logger
}

// NewHub creates a new relay hub. Call Run to start processing.
func NewHub(logger *zerolog.Logger, opts Options) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbox:      make(chan inbound, inboxSize),
		queries:    make(chan func()),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]*Room),
		opts:       opts,
		log:        logger,
	}
}

// Run processes registrations and commands until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.connect(ctx, c)
		case c := <-h.unregister:
			h.disconnect(c)
		case in := <-h.inbox:
			h.handle(in.client, in.cmd)
		case query := <-h.queries:
			query()
		}
	}
}

// RegisterClient adds a connection with an empty membership set.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// UnregisterClient removes a connection and all of its membership edges.
// Unregistering an unknown or already removed client is a no-op.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// MembersOf returns the sorted ids of the connections currently joined to room.
func (h *Hub) MembersOf(ctx context.Context, room string) ([]string, error) {
	return ask(ctx, h, func() []string {
		r, ok := h.rooms[room]
		if !ok {
			return []string{}
		}
		return r.Members()
	})
}

// Connections returns the sorted ids of every registered connection.
func (h *Hub) Connections(ctx context.Context) ([]string, error) {
	return ask(ctx, h, func() []string {
		ids := make([]string, 0, len(h.clients))
		for c := range h.clients {
			ids = append(ids, c.ID)
		}
		sort.Strings(ids)
		return ids
	})
}

func ask[T any](ctx context.Context, h *Hub, fn func() T) (T, error) {
	var zero T
	result := make(chan T, 1)
	query := func() { result <- fn() }

	select {
	case h.queries <- query:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-h.done:
		return zero, ErrHubStopped
	}

	select {
	case v := <-result:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (h *Hub) connect(ctx context.Context, c *Client) {
	if _, exists := h.clients[c]; exists {
		return
	}
	h.clients[c] = struct{}{}
	h.log.Info().Str("client_id", c.ID).Int("clients", len(h.clients)).Msg("client connected")
	go h.forward(ctx, c)
}

// forward moves a client's commands into the shared inbox, preserving their order.
func (h *Hub) forward(ctx context.Context, c *Client) {
	for {
		select {
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			select {
			case h.inbox <- inbound{client: c, cmd: cmd}:
			case <-c.gone:
				return
			case <-ctx.Done():
				return
			}
		case <-c.gone:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) disconnect(c *Client) {
	if _, exists := h.clients[c]; !exists {
		return
	}
	for room := range c.rooms {
		h.leave(c, room)
	}
	delete(h.clients, c)
	close(c.gone)
	close(c.Events)
	h.log.Info().Str("client_id", c.ID).Int("clients", len(h.clients)).Msg("client disconnected")
}

func (h *Hub) shutdown() {
	for c := range h.clients {
		h.disconnect(c)
	}
}

func (h *Hub) handle(c *Client, cmd *Command) {
	// Commands may still be queued for a client that has since disconnected.
	if _, ok := h.clients[c]; !ok {
		return
	}

	switch cmd.Kind {
	case CommandGlobalMessage:
		h.broadcastAll(&Event{Kind: EventMessage, Message: cmd.Message})
	case CommandJoinRoom:
		if cmd.Room == "" {
			h.reject(c, cmd, coreError(ErrCodeRoomRequired, ErrRoomRequired.Error()))
			return
		}
		h.join(c, cmd.Room)
	case CommandLeaveRoom:
		if cmd.Room == "" {
			h.reject(c, cmd, coreError(ErrCodeRoomRequired, ErrRoomRequired.Error()))
			return
		}
		h.leave(c, cmd.Room)
	case CommandRoomMessage:
		if cmd.Room == "" {
			h.reject(c, cmd, coreError(ErrCodeRoomRequired, ErrRoomRequired.Error()))
			return
		}
		h.broadcastRoom(cmd.Room, cmd.Message)
	default:
		h.reject(c, cmd, coreError(ErrCodeUnknownEvent, "unknown command"))
	}
}

func (h *Hub) join(c *Client, roomID string) {
	room, ok := h.rooms[roomID]
	if !ok {
		room = NewRoom(roomID)
		h.rooms[roomID] = room
	}
	if room.AddClient(c) {
		c.rooms[roomID] = struct{}{}
		h.log.Debug().Str("client_id", c.ID).Str("room", roomID).Msg("joined room")
	}
}

func (h *Hub) leave(c *Client, roomID string) {
	delete(c.rooms, roomID)
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if room.RemoveClient(c) {
		h.log.Debug().Str("client_id", c.ID).Str("room", roomID).Msg("left room")
	}
	if room.Empty() {
		delete(h.rooms, roomID)
	}
}

func (h *Hub) broadcastAll(event *Event) {
	for c := range h.clients {
		if !deliver(c, event) {
			h.log.Warn().Str("client_id", c.ID).Msg("client queue full, dropping message")
		}
	}
}

func (h *Hub) broadcastRoom(roomID string, msg Message) {
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	msg.Room = roomID
	for _, c := range room.Broadcast(&Event{Kind: EventRoomMessage, Room: roomID, Message: msg}) {
		h.log.Warn().Str("client_id", c.ID).Str("room", roomID).Msg("client queue full, dropping room message")
	}
}

func (h *Hub) reject(c *Client, cmd *Command, err *CoreError) {
	if !h.opts.RejectMalformed {
		h.log.Debug().Str("client_id", c.ID).Str("command", cmd.Kind.String()).Str("code", err.Code).Msg("dropping invalid command")
		return
	}
	deliver(c, &Event{Kind: EventRejected, Room: cmd.Room, Command: cmd.Kind, Error: err})
}

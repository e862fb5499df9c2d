// Package client is the Go side of the realtime chat: a relay connection that
// survives reconnects, a store API client, and channels that merge both
// delivery paths into one list.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/squadup-relay/internal/proto"
)

// ErrNotConnected is returned when a chat message is sent while the relay
// connection is down. Joins and leaves are never rejected this way.
var ErrNotConnected = errors.New("relay not connected")

// ErrRoomBound is returned when a relay that feeds a room channel is asked to
// serve another room. Relay room frames carry no room id, so one relay can
// back at most one room.
var ErrRoomBound = errors.New("relay already bound to a room")

const writeTimeout = 5 * time.Second

// RelayOptions tune the reconnect loop.
type RelayOptions struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func (o RelayOptions) withDefaults() RelayOptions {
	if o.MinBackoff <= 0 {
		o.MinBackoff = 250 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Second
	}
	o.MaxBackoff = max(o.MaxBackoff, o.MinBackoff)
	return o
}

// Relay is a reconnecting connection to the relay websocket.
//
// The set of rooms the caller intends to be in is kept apart from the
// transport and replayed as join-room frames after every connect, so room
// delivery resumes after a drop without any caller action.
type Relay struct {
	url  string
	opts RelayOptions
	log  *zerolog.Logger

	// mu guards conn and rooms and serializes writes, so a replay can never
	// interleave with a concurrent Join or Leave.
	mu    sync.Mutex
	conn  *websocket.Conn
	rooms map[string]struct{}
	bound string

	onMessage     *handlerSet[proto.ChatMessage]
	onRoomMessage *handlerSet[proto.ChatMessage]
	onConnect     *handlerSet[struct{}]
}

// NewRelay creates a relay client for the given ws:// or wss:// url.
func NewRelay(url string, opts RelayOptions, logger *zerolog.Logger) *Relay {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Relay{
		url:           url,
		opts:          opts.withDefaults(),
		log:           logger,
		rooms:         make(map[string]struct{}),
		onMessage:     newHandlerSet[proto.ChatMessage](),
		onRoomMessage: newHandlerSet[proto.ChatMessage](),
		onConnect:     newHandlerSet[struct{}](),
	}
}

// Run dials the relay and keeps reconnecting with exponential backoff until
// ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	backoff := r.opts.MinBackoff
	for {
		conn, _, err := websocket.Dial(ctx, r.url, nil)
		if err == nil {
			backoff = r.opts.MinBackoff
			err = r.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.log.Warn().Err(err).Dur("retry_in", backoff).Msg("relay connection lost")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, r.opts.MaxBackoff)
	}
}

func (r *Relay) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.CloseNow()

	if err := r.attach(ctx, conn); err != nil {
		return err
	}
	defer r.detach(conn)

	r.log.Info().Str("url", r.url).Msg("relay connected")
	r.onConnect.emit(struct{}{})

	for {
		var frame proto.Inbound
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return err
		}
		r.dispatch(frame)
	}
}

// attach replays intended membership and publishes conn for writers.
func (r *Relay) attach(ctx context.Context, conn *websocket.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := make([]string, 0, len(r.rooms))
	for room := range r.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)

	for _, room := range rooms {
		if err := write(ctx, conn, proto.TypeJoinRoom, room); err != nil {
			return fmt.Errorf("rejoin %s: %w", room, err)
		}
	}
	r.conn = conn
	return nil
}

func (r *Relay) detach(conn *websocket.Conn) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
}

func (r *Relay) dispatch(frame proto.Inbound) {
	switch frame.Type {
	case proto.TypeMessage, proto.TypeRoomMessage:
		var msg proto.ChatMessage
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			r.log.Debug().Err(err).Str("type", frame.Type).Msg("drop undecodable relay frame")
			return
		}
		if frame.Type == proto.TypeMessage {
			r.onMessage.emit(msg)
		} else {
			r.onRoomMessage.emit(msg)
		}
	case proto.TypeRejected:
		var rej proto.Rejected
		if err := json.Unmarshal(frame.Data, &rej); err != nil {
			r.log.Debug().Err(err).Msg("drop undecodable rejection")
			return
		}
		r.log.Warn().Str("code", rej.Code).Str("reason", rej.Reason).Str("event", rej.Event).Msg("relay rejected event")
	default:
		r.log.Debug().Str("type", frame.Type).Msg("ignore relay frame")
	}
}

// Join records room as intended and sends join-room when connected.
func (r *Relay) Join(ctx context.Context, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bound != "" && r.bound != room {
		return fmt.Errorf("join %s: %w to %s", room, ErrRoomBound, r.bound)
	}
	r.rooms[room] = struct{}{}
	return r.sendLocked(ctx, proto.TypeJoinRoom, room, false)
}

// bind reserves the relay for a single room channel. It fails when another
// channel holds it or when other rooms are joined.
func (r *Relay) bind(room string) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bound != "" {
		return nil, fmt.Errorf("%w to %s", ErrRoomBound, r.bound)
	}
	for joined := range r.rooms {
		if joined != room {
			return nil, fmt.Errorf("%w: already in %s", ErrRoomBound, joined)
		}
	}
	r.bound = room

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.bound = ""
			r.mu.Unlock()
		})
	}, nil
}

// Leave drops room from the intended set and sends leave-room when connected.
func (r *Relay) Leave(ctx context.Context, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.rooms, room)
	return r.sendLocked(ctx, proto.TypeLeaveRoom, room, false)
}

// Rooms returns the intended membership, sorted.
func (r *Relay) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := make([]string, 0, len(r.rooms))
	for room := range r.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// SendGlobal broadcasts msg to every relay connection, the sender included.
func (r *Relay) SendGlobal(ctx context.Context, msg proto.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sendLocked(ctx, proto.TypeMessage, msg, true)
}

// SendRoom sends msg to the current members of room.
func (r *Relay) SendRoom(ctx context.Context, room string, msg proto.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sendLocked(ctx, proto.TypeRoomMessage, proto.RoomMessageData{RoomID: room, Message: &msg}, true)
}

func (r *Relay) sendLocked(ctx context.Context, typ string, data any, required bool) error {
	if r.conn == nil {
		if required {
			return ErrNotConnected
		}
		return nil
	}
	return write(ctx, r.conn, typ, data)
}

// OnMessage registers fn for global messages. The returned func unregisters it.
func (r *Relay) OnMessage(fn func(proto.ChatMessage)) func() {
	return r.onMessage.add(fn)
}

// OnRoomMessage registers fn for room messages. Relay room frames carry no
// room id, so fn sees messages of every joined room.
func (r *Relay) OnRoomMessage(fn func(proto.ChatMessage)) func() {
	return r.onRoomMessage.add(fn)
}

// OnConnect registers fn to run after every successful (re)connect, once
// membership has been replayed.
func (r *Relay) OnConnect(fn func()) func() {
	return r.onConnect.add(func(struct{}) { fn() })
}

func write(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, conn, proto.Outbound{Type: typ, Data: data}); err != nil {
		return fmt.Errorf("write %s: %w", typ, err)
	}
	return nil
}

type handlerSet[T any] struct {
	mu   sync.RWMutex
	next uint64
	fns  map[uint64]func(T)
}

func newHandlerSet[T any]() *handlerSet[T] {
	return &handlerSet[T]{fns: make(map[uint64]func(T))}
}

func (h *handlerSet[T]) add(fn func(T)) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.fns[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.fns, id)
		h.mu.Unlock()
	}
}

func (h *handlerSet[T]) emit(v T) {
	h.mu.RLock()
	fns := make([]func(T), 0, len(h.fns))
	for _, fn := range h.fns {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

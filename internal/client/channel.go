package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/squadup-relay/internal/proto"
	"github.com/vovakirdan/squadup-relay/internal/reconcile"
)

// Identity is the local user as stamped on outgoing relay messages.
type Identity struct {
	UserID   string
	Username string
}

// RoomChannel is the reconciled message list of one room. Messages enter the
// list only when they arrive over the relay or the insert feed; sending never
// inserts locally.
type RoomChannel struct {
	room  string
	self  Identity
	relay *Relay
	store *StoreClient
	log   *zerolog.Logger

	// ctx lives until Close and bounds background history fetches.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	list     *reconcile.List
	pending  []reconcile.Message
	seeded   bool
	closed   bool
	onChange func([]reconcile.Message)
	stops    []func()
}

const resyncTimeout = 10 * time.Second

// OpenRoom subscribes to both delivery paths of room, then seeds the list
// from history. Events that arrive before the seed are merged after it. A
// failed history fetch leaves the list empty; a failed subscription fails
// the open.
//
// The relay is bound to this channel until Close: it cannot join another
// room or back a second room channel meanwhile. History is fetched again
// after every relay reconnect and feed resubscribe to fill outage gaps.
func OpenRoom(ctx context.Context, room string, self Identity, relay *Relay, st *StoreClient, logger *zerolog.Logger) (*RoomChannel, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	release, err := relay.bind(room)
	if err != nil {
		return nil, fmt.Errorf("open room %s: %w", room, err)
	}

	lifetime, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch := &RoomChannel{
		room:   room,
		self:   self,
		relay:  relay,
		store:  st,
		log:    logger,
		ctx:    lifetime,
		cancel: cancel,
		stops:  []func(){cancel, release},
	}

	// Relay room frames carry no room id; the binding makes them this room's.
	ch.stops = append(ch.stops,
		relay.OnRoomMessage(func(m proto.ChatMessage) {
			ch.apply(fromRelay(room, m))
		}),
		relay.OnConnect(ch.resync),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Join(gctx, room)
	})
	g.Go(func() error {
		stop, err := st.SubscribeToInserts(gctx, room, func(m proto.StoredMessage) {
			ch.apply(fromStore(m))
		}, ch.resync)
		if err != nil {
			return err
		}
		ch.mu.Lock()
		ch.stops = append(ch.stops, stop)
		ch.mu.Unlock()
		return nil
	})
	if err := g.Wait(); err != nil {
		ch.stop()
		_ = relay.Leave(context.WithoutCancel(ctx), room)
		return nil, fmt.Errorf("open room %s: %w", room, err)
	}

	history, err := st.FetchHistory(ctx, room)
	if err != nil {
		logger.Warn().Err(err).Str("room", room).Msg("history unavailable, starting empty")
	}

	ch.mu.Lock()
	ch.list = reconcile.NewList(fromStoreAll(history))
	for _, m := range ch.pending {
		ch.list.Apply(m)
	}
	ch.pending = nil
	ch.seeded = true
	ch.mu.Unlock()

	return ch, nil
}

// Room returns the room id.
func (c *RoomChannel) Room() string { return c.room }

// Messages returns a snapshot of the reconciled list.
func (c *RoomChannel) Messages() []reconcile.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.list == nil {
		return nil
	}
	return c.list.Messages()
}

// OnChange sets fn to receive a snapshot whenever a message is added.
func (c *RoomChannel) OnChange(fn func([]reconcile.Message)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Send persists content and relays it with the durable id. When the store
// is unreachable the message still goes over the relay with a transient id
// and the store error is returned.
func (c *RoomChannel) Send(ctx context.Context, content string) error {
	msg := proto.ChatMessage{
		UserID:    c.self.UserID,
		Username:  c.self.Username,
		Content:   strings.TrimSpace(content),
		Timestamp: time.Now().UTC(),
	}

	stored, persistErr := c.store.Persist(ctx, c.room, content)
	var apiErr *APIError
	if errors.As(persistErr, &apiErr) && apiErr.Status < 500 {
		// Rejected by the store (empty, too long, not a participant).
		return persistErr
	}
	if persistErr == nil {
		msg.ID = stored.ID
		msg.Content = stored.Content
		msg.Timestamp = stored.CreatedAt
	} else {
		msg.ID = uuid.NewString()
		c.log.Warn().Err(persistErr).Str("room", c.room).Msg("persist failed, relaying transient message")
	}

	return errors.Join(persistErr, c.relay.SendRoom(ctx, c.room, msg))
}

// Close leaves the relay room, stops both delivery paths and releases the
// relay. Nothing is applied to the list after Close returns.
func (c *RoomChannel) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.relay.Leave(ctx, c.room)
	c.stop()
	return err
}

func (c *RoomChannel) stop() {
	c.mu.Lock()
	stops := c.stops
	c.stops = nil
	c.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

func (c *RoomChannel) apply(m reconcile.Message) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if !c.seeded {
		c.pending = append(c.pending, m)
		c.mu.Unlock()
		return
	}
	added := c.list.Apply(m)
	fn := c.onChange
	var snapshot []reconcile.Message
	if added && fn != nil {
		snapshot = c.list.Messages()
	}
	c.mu.Unlock()

	if snapshot != nil {
		fn(snapshot)
	}
}

// resync merges a fresh history fetch in the background. Entries already
// in the list are recognised by id.
func (c *RoomChannel) resync() {
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, resyncTimeout)
		defer cancel()

		history, err := c.store.FetchHistory(ctx, c.room)
		if err != nil {
			if c.ctx.Err() == nil {
				c.log.Warn().Err(err).Str("room", c.room).Msg("history resync failed")
			}
			return
		}

		c.mu.Lock()
		if c.closed || !c.seeded {
			c.mu.Unlock()
			return
		}
		added := c.list.Backfill(fromStoreAll(history))
		fn := c.onChange
		var snapshot []reconcile.Message
		if added > 0 && fn != nil {
			snapshot = c.list.Messages()
		}
		c.mu.Unlock()

		if snapshot != nil {
			fn(snapshot)
		}
	}()
}

// GlobalChannel is the relay-only list of global messages.
type GlobalChannel struct {
	self  Identity
	relay *Relay

	mu       sync.Mutex
	list     *reconcile.List
	closed   bool
	onChange func([]reconcile.Message)
	stop     func()
}

// OpenGlobal starts collecting global messages from relay.
func OpenGlobal(self Identity, relay *Relay) *GlobalChannel {
	ch := &GlobalChannel{self: self, relay: relay, list: reconcile.NewList(nil)}
	ch.stop = relay.OnMessage(func(m proto.ChatMessage) {
		ch.mu.Lock()
		if ch.closed || !ch.list.Apply(fromRelay("", m)) || ch.onChange == nil {
			ch.mu.Unlock()
			return
		}
		fn, snapshot := ch.onChange, ch.list.Messages()
		ch.mu.Unlock()
		fn(snapshot)
	})
	return ch
}

// OnChange sets fn to receive a snapshot whenever a message is added.
func (c *GlobalChannel) OnChange(fn func([]reconcile.Message)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Send broadcasts content. It shows up in Messages once the relay echoes it.
func (c *GlobalChannel) Send(ctx context.Context, content string) error {
	return c.relay.SendGlobal(ctx, proto.ChatMessage{
		ID:        uuid.NewString(),
		UserID:    c.self.UserID,
		Username:  c.self.Username,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

// Messages returns a snapshot of the list.
func (c *GlobalChannel) Messages() []reconcile.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Messages()
}

// Close stops collecting.
func (c *GlobalChannel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.stop()
}

func fromRelay(room string, m proto.ChatMessage) reconcile.Message {
	return reconcile.Message{
		ID:        m.ID,
		RoomID:    room,
		UserID:    m.UserID,
		Username:  m.Username,
		Content:   m.Content,
		CreatedAt: m.Timestamp,
	}
}

func fromStoreAll(msgs []proto.StoredMessage) []reconcile.Message {
	out := make([]reconcile.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, fromStore(m))
	}
	return out
}

func fromStore(m proto.StoredMessage) reconcile.Message {
	var userID string
	if m.UserID != nil {
		userID = *m.UserID
	}
	return reconcile.Message{
		ID:        m.ID,
		RoomID:    m.RoomID,
		UserID:    userID,
		Username:  m.Username,
		Content:   m.Content,
		Type:      m.Type,
		CreatedAt: m.CreatedAt,
		Persisted: true,
	}
}

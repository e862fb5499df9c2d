package notify

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/squadup-relay/internal/store"
)

const defaultQueueSize = 256

// Notifier pushes "row inserted" events to per-room subscribers. Each
// subscriber runs on its own goroutine so a slow consumer never blocks Publish.
type Notifier struct {
	mu     sync.RWMutex
	rooms  map[string]map[uint64]*subscriber
	nextID uint64
	queue  int
	log    *zerolog.Logger
}

type subscriber struct {
	id     uint64
	room   string
	fn     func(*store.Message)
	events chan *store.Message
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

// New creates a notifier. queueSize <= 0 uses the default.
func New(logger *zerolog.Logger, queueSize int) *Notifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Notifier{
		rooms: make(map[string]map[uint64]*subscriber),
		queue: queueSize,
		log:   logger,
	}
}

// Subscribe registers fn for inserts into roomID. The returned function stops
// delivery; it is safe to call more than once. fn is never invoked after the
// unsubscribe call returns, except for a call already in progress.
func (n *Notifier) Subscribe(roomID string, fn func(*store.Message)) func() {
	n.mu.Lock()
	n.nextID++
	sub := &subscriber{
		id:     n.nextID,
		room:   roomID,
		fn:     fn,
		events: make(chan *store.Message, n.queue),
		done:   make(chan struct{}),
	}
	if n.rooms[roomID] == nil {
		n.rooms[roomID] = make(map[uint64]*subscriber)
	}
	n.rooms[roomID][sub.id] = sub
	n.mu.Unlock()

	go sub.run()

	return func() { n.remove(sub) }
}

// Publish fans msg out to the subscribers of its room.
func (n *Notifier) Publish(msg *store.Message) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, sub := range n.rooms[msg.RoomID] {
		select {
		case sub.events <- msg:
		default:
			n.log.Warn().Str("room", msg.RoomID).Uint64("subscriber", sub.id).Msg("subscriber queue full, dropping insert")
		}
	}
}

// Subscribers returns how many subscriptions a room has.
func (n *Notifier) Subscribers(roomID string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.rooms[roomID])
}

// Close stops every subscription.
func (n *Notifier) Close() {
	n.mu.Lock()
	var all []*subscriber
	for _, subs := range n.rooms {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}
	n.mu.Unlock()

	for _, sub := range all {
		n.remove(sub)
	}
}

func (n *Notifier) remove(sub *subscriber) {
	sub.once.Do(func() {
		sub.closed.Store(true)
		close(sub.done)

		n.mu.Lock()
		delete(n.rooms[sub.room], sub.id)
		if len(n.rooms[sub.room]) == 0 {
			delete(n.rooms, sub.room)
		}
		n.mu.Unlock()
	})
}

func (s *subscriber) run() {
	for {
		select {
		case msg := <-s.events:
			if s.closed.Load() {
				return
			}
			s.fn(msg)
		case <-s.done:
			return
		}
	}
}

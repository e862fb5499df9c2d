package http

import (
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/squadup-relay/internal/core"
	"github.com/vovakirdan/squadup-relay/internal/proto"
	"github.com/vovakirdan/squadup-relay/internal/store"
)

// RealtimeHandler streams persisted inserts for one room over a websocket.
type RealtimeHandler struct {
	feed   InsertFeed
	buffer int
	accept *websocket.AcceptOptions
	log    *zerolog.Logger
}

// NewRealtimeHandler creates the realtime feed handler.
func NewRealtimeHandler(feed InsertFeed, buffer int, accept *websocket.AcceptOptions, logger *zerolog.Logger) *RealtimeHandler {
	if buffer <= 0 {
		buffer = core.DefaultClientBuffer
	}
	return &RealtimeHandler{feed: feed, buffer: buffer, accept: accept, log: logger}
}

// ServeHTTP streams the inserts of one room.
// GET /realtime/rooms/{roomID}
func (h *RealtimeHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	roomID := r.PathValue("roomID")

	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		h.log.Error().Err(err).Msg("realtime accept error")
		return
	}
	defer conn.CloseNow()

	// The feed is push-only; CloseRead discards client frames and cancels ctx on close.
	ctx := conn.CloseRead(r.Context())

	inserts := make(chan *store.Message, h.buffer)
	unsubscribe := h.feed.Subscribe(roomID, func(msg *store.Message) {
		select {
		case inserts <- msg:
		default:
			h.log.Warn().Str("room", roomID).Msg("realtime queue full, dropping insert")
		}
	})
	defer unsubscribe()

	if err := wsjson.Write(ctx, conn, proto.Outbound{Type: proto.TypeSubscribed, Data: roomID}); err != nil {
		return
	}
	logEvt := h.log.Debug().Str("room", roomID)
	if claims, ok := ClaimsFrom(r.Context()); ok {
		logEvt = logEvt.Str("user_id", claims.UserID())
	}
	logEvt.Msg("realtime subscriber attached")

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "closing")
			return
		case msg := <-inserts:
			if err := wsjson.Write(ctx, conn, proto.Outbound{Type: proto.TypeInsert, Data: storedToProto(msg)}); err != nil {
				h.log.Debug().Err(err).Str("room", roomID).Msg("write realtime insert")
				return
			}
		}
	}
}

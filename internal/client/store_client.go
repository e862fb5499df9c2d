package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/squadup-relay/internal/proto"
)

// APIError is a non-2xx answer from the store API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("store api: %d %s", e.Status, e.Message)
}

// StoreClient talks to the durable store API and its realtime insert feed.
type StoreClient struct {
	baseURL string
	token   string
	http    *http.Client
	backoff RelayOptions
	log     *zerolog.Logger
}

// NewStoreClient creates a store client for baseURL (http:// or https://)
// authenticated with a bearer token. A nil hc uses http.DefaultClient.
func NewStoreClient(baseURL, token string, hc *http.Client, logger *zerolog.Logger) *StoreClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &StoreClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    hc,
		backoff: RelayOptions{}.withDefaults(),
		log:     logger,
	}
}

// FetchHistory returns the latest messages of room, oldest first.
func (c *StoreClient) FetchHistory(ctx context.Context, room string) ([]proto.StoredMessage, error) {
	var msgs []proto.StoredMessage
	if err := c.do(ctx, http.MethodGet, roomPath(room, "messages"), nil, &msgs); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return msgs, nil
}

// Persist stores a message from the token's user and returns the stored row.
func (c *StoreClient) Persist(ctx context.Context, room, content string) (proto.StoredMessage, error) {
	var msg proto.StoredMessage
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPost, roomPath(room, "messages"), body, &msg); err != nil {
		return proto.StoredMessage{}, fmt.Errorf("persist message: %w", err)
	}
	return msg, nil
}

// JoinRoom makes the token's user a durable participant of room.
func (c *StoreClient) JoinRoom(ctx context.Context, room string) error {
	if err := c.do(ctx, http.MethodPost, roomPath(room, "participants"), nil, nil); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	return nil
}

// LeaveRoom removes the token's user from room's participants.
func (c *StoreClient) LeaveRoom(ctx context.Context, room string) error {
	if err := c.do(ctx, http.MethodDelete, roomPath(room, "participants"), nil, nil); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	return nil
}

// SetProfile updates the names shown next to the user's messages.
func (c *StoreClient) SetProfile(ctx context.Context, username, displayName string) error {
	body := map[string]string{"username": username, "display_name": displayName}
	if err := c.do(ctx, http.MethodPut, "/api/profile", body, nil); err != nil {
		return fmt.Errorf("set profile: %w", err)
	}
	return nil
}

// SubscribeToInserts streams every message persisted to room into fn. It
// returns once the subscription is live. A dropped feed is re-dialed with
// backoff and onResync (which may be nil) runs after each resubscribe, since
// inserts made while the feed was down are never replayed. fn runs on a
// single goroutine in insert order; the returned func stops delivery and may
// be called from fn.
func (c *StoreClient) SubscribeToInserts(ctx context.Context, room string, fn func(proto.StoredMessage), onResync func()) (func(), error) {
	// The stream outlives ctx; ctx only bounds the first handshake.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopAbort := context.AfterFunc(ctx, cancel)

	conn, err := c.dialFeed(streamCtx, room)
	if !stopAbort() && err == nil {
		conn.CloseNow()
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		return nil, err
	}

	go func() {
		for {
			err := c.readFeed(streamCtx, conn, fn)
			conn.CloseNow()
			if streamCtx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Str("room", room).Msg("realtime feed dropped, resubscribing")

			if conn = c.redialFeed(streamCtx, room); conn == nil {
				return
			}
			if onResync != nil {
				onResync()
			}
		}
	}()

	return cancel, nil
}

// WithReconnect sets the backoff used to resubscribe dropped feeds.
func (c *StoreClient) WithReconnect(opts RelayOptions) *StoreClient {
	c.backoff = opts.withDefaults()
	return c
}

func (c *StoreClient) redialFeed(ctx context.Context, room string) *websocket.Conn {
	backoff := c.backoff.MinBackoff
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		conn, err := c.dialFeed(ctx, room)
		if err == nil {
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn().Err(err).Str("room", room).Dur("retry_in", backoff).Msg("realtime resubscribe failed")
		backoff = min(backoff*2, c.backoff.MaxBackoff)
	}
}

// dialFeed opens the realtime socket and waits for the subscribed frame.
func (c *StoreClient) dialFeed(ctx context.Context, room string) (*websocket.Conn, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/realtime/rooms/" + url.PathEscape(room)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + c.token}},
	})
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	var first proto.Inbound
	err = wsjson.Read(ctx, conn, &first)
	if err == nil && first.Type != proto.TypeSubscribed {
		err = fmt.Errorf("unexpected %q frame", first.Type)
	}
	if err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("await subscription: %w", err)
	}
	return conn, nil
}

func (c *StoreClient) readFeed(ctx context.Context, conn *websocket.Conn, fn func(proto.StoredMessage)) error {
	for {
		var frame proto.Inbound
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return err
		}
		if frame.Type != proto.TypeInsert {
			continue
		}
		var msg proto.StoredMessage
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			c.log.Debug().Err(err).Msg("drop undecodable insert")
			continue
		}
		fn(msg)
	}
}

func (c *StoreClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func roomPath(room, resource string) string {
	return "/api/rooms/" + url.PathEscape(room) + "/" + resource
}

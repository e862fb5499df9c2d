package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/squadup-relay/internal/auth"
	"github.com/vovakirdan/squadup-relay/internal/config"
	"github.com/vovakirdan/squadup-relay/internal/core"
	"github.com/vovakirdan/squadup-relay/internal/log"
	"github.com/vovakirdan/squadup-relay/internal/notify"
	"github.com/vovakirdan/squadup-relay/internal/proto"
	"github.com/vovakirdan/squadup-relay/internal/service/messages"
	"github.com/vovakirdan/squadup-relay/internal/store/sqlite"
)

type testEnv struct {
	ts       *httptest.Server
	hub      *core.Hub
	notifier *notify.Notifier
	cfg      config.Config
}

func startTestServer(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.JWTSecret = "test-secret"
	if mutate != nil {
		mutate(&cfg)
	}

	logger := log.Nop()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	notifier := notify.New(logger, 0)
	t.Cleanup(notifier.Close)

	svc := messages.New(st, notifier, messages.Options{
		HistoryLimit:     cfg.HistoryLimit,
		MaxMessageLength: cfg.MaxMessageLength,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	hub := core.NewHub(logger, core.Options{RejectMalformed: cfg.RejectMalformed})
	go hub.Run(ctx)

	server := NewServer(hub, svc, notifier, &cfg, logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})

	return &testEnv{ts: ts, hub: hub, notifier: notifier, cfg: cfg}
}

func (e *testEnv) wsURL(path string) string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + path
}

func (e *testEnv) token(t *testing.T, userID, username string) string {
	t.Helper()

	token, err := auth.GenerateToken(&auth.JWTConfig{
		Secret:   []byte(e.cfg.JWTSecret),
		Issuer:   e.cfg.JWTIssuer,
		Audience: e.cfg.JWTAudience,
		TTL:      time.Hour,
	}, userID, username)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func (e *testEnv) dial(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, e.wsURL("/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// waitMemberCount polls the hub until room has n members.
func (e *testEnv) waitMemberCount(t *testing.T, room string, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		members, err := e.hub.MembersOf(context.Background(), room)
		if err != nil {
			t.Fatalf("members of %q: %v", room, err)
		}
		if len(members) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %q never reached %d members", room, n)
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) proto.Inbound {
	t.Helper()

	var frame proto.Inbound
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func readChat(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) proto.ChatMessage {
	t.Helper()

	frame := readFrame(t, ctx, conn)
	if frame.Type != typ {
		t.Fatalf("expected %s frame, got %s (%s)", typ, frame.Type, frame.Data)
	}
	var msg proto.ChatMessage
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		t.Fatalf("decode %s: %v", typ, err)
	}
	return msg
}

// expectNoFrame must be the last read on conn: an expired read closes the connection.
func expectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	var frame proto.Inbound
	if err := wsjson.Read(ctx, conn, &frame); err == nil {
		t.Fatalf("unexpected frame: %s %s", frame.Type, frame.Data)
	}
}

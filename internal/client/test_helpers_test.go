package client

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/squadup-relay/internal/auth"
	"github.com/vovakirdan/squadup-relay/internal/config"
	"github.com/vovakirdan/squadup-relay/internal/core"
	"github.com/vovakirdan/squadup-relay/internal/log"
	"github.com/vovakirdan/squadup-relay/internal/notify"
	"github.com/vovakirdan/squadup-relay/internal/reconcile"
	"github.com/vovakirdan/squadup-relay/internal/service/messages"
	"github.com/vovakirdan/squadup-relay/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/squadup-relay/internal/transport/http"
)

// testEnv is a full server: relay, store API and realtime feed.
type testEnv struct {
	ts  *httptest.Server
	hub *core.Hub
	cfg config.Config

	failHistory atomic.Bool
	failPersist atomic.Bool
	failFeed    atomic.Bool

	conns *trackingListener
}

// trackingListener remembers accepted connections so a test can cut them all.
type trackingListener struct {
	net.Listener

	mu    sync.Mutex
	conns []net.Conn
}

func (l *trackingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		l.mu.Lock()
		l.conns = append(l.conns, conn)
		l.mu.Unlock()
	}
	return conn, err
}

func (l *trackingListener) dropAll() {
	l.mu.Lock()
	conns := l.conns
	l.conns = nil
	l.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.JWTSecret = "client-test-secret"
	logger := log.Nop()

	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	notifier := notify.New(logger, 0)
	t.Cleanup(notifier.Close)

	svc := messages.New(st, notifier, messages.Options{
		HistoryLimit:     cfg.HistoryLimit,
		MaxMessageLength: cfg.MaxMessageLength,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	hub := core.NewHub(logger, core.Options{})
	go hub.Run(ctx)

	env := &testEnv{hub: hub, cfg: cfg}
	server := transporthttp.NewServer(hub, svc, notifier, &cfg, logger)
	env.ts = httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/realtime/") && env.failFeed.Load() {
			http.Error(w, `{"error":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/messages") {
			if (r.Method == http.MethodGet && env.failHistory.Load()) ||
				(r.Method == http.MethodPost && env.failPersist.Load()) {
				http.Error(w, `{"error":"unavailable"}`, http.StatusServiceUnavailable)
				return
			}
		}
		server.Handler.ServeHTTP(w, r)
	}))
	env.conns = &trackingListener{Listener: env.ts.Listener}
	env.ts.Listener = env.conns
	env.ts.Start()
	t.Cleanup(func() {
		env.ts.Close()
		cancel()
	})
	return env
}

func (e *testEnv) storeClient(t *testing.T, userID, username string) *StoreClient {
	t.Helper()

	token, err := auth.GenerateToken(&auth.JWTConfig{
		Secret:   []byte(e.cfg.JWTSecret),
		Issuer:   e.cfg.JWTIssuer,
		Audience: e.cfg.JWTAudience,
		TTL:      time.Hour,
	}, userID, username)
	require.NoError(t, err)
	return NewStoreClient(e.ts.URL, token, e.ts.Client(), nil).
		WithReconnect(RelayOptions{MinBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond})
}

// relay starts a relay client and waits for its first connect.
func (e *testEnv) relay(t *testing.T, ctx context.Context) *Relay {
	t.Helper()
	return startRelay(t, ctx, wsURL(e.ts.URL)+"/ws")
}

func (e *testEnv) waitMembers(t *testing.T, room string, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		members, err := e.hub.MembersOf(context.Background(), room)
		return err == nil && len(members) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func (e *testEnv) waitConnections(t *testing.T, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		conns, err := e.hub.Connections(context.Background())
		return err == nil && len(conns) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func startRelay(t *testing.T, ctx context.Context, url string) *Relay {
	t.Helper()

	r := NewRelay(url, RelayOptions{MinBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}, nil)
	connected := make(chan struct{}, 1)
	r.OnConnect(func() {
		select {
		case connected <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("relay never connected")
	}
	return r
}

func wsURL(httpURL string) string {
	return strings.Replace(httpURL, "http", "ws", 1)
}

func countContent(msgs []reconcile.Message, content string) int {
	n := 0
	for _, m := range msgs {
		if m.Content == content {
			n++
		}
	}
	return n
}

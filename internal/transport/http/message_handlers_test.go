package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/squadup-relay/internal/proto"
)

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp := httptest.NewRecorder()
	e.ts.Config.Handler.ServeHTTP(resp, req)
	return resp
}

func TestStoreAPIRequiresToken(t *testing.T) {
	env := startTestServer(t, nil)

	resp := env.do(t, http.MethodGet, "/api/rooms/r1/messages", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = env.do(t, http.MethodGet, "/api/rooms/r1/messages", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestSendAndHistory(t *testing.T) {
	env := startTestServer(t, nil)
	token := env.token(t, "u1", "ana")

	resp := env.do(t, http.MethodPost, "/api/rooms/r1/messages", token, SendMessageRequest{Content: "hola"})
	assert.Equal(t, http.StatusForbidden, resp.Code, "non participants cannot post")

	resp = env.do(t, http.MethodPut, "/api/profile", token, ProfileRequest{DisplayName: "Ana"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = env.do(t, http.MethodPost, "/api/rooms/r1/participants", token, nil)
	require.Equal(t, http.StatusNoContent, resp.Code)

	resp = env.do(t, http.MethodPost, "/api/rooms/r1/messages", token, SendMessageRequest{Content: "hola"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var sent proto.StoredMessage
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &sent))
	assert.NotEmpty(t, sent.ID)
	assert.Equal(t, "r1", sent.RoomID)
	assert.Equal(t, "Ana", sent.Username)
	require.NotNil(t, sent.UserID)
	assert.Equal(t, "u1", *sent.UserID)

	resp = env.do(t, http.MethodPost, "/api/rooms/r1/messages", token, SendMessageRequest{Content: ""})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.do(t, http.MethodGet, "/api/rooms/r1/messages", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var history []proto.StoredMessage
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &history))
	require.Len(t, history, 2)
	assert.Equal(t, "system", history[0].Type)
	assert.Nil(t, history[0].UserID)
	assert.Equal(t, sent.ID, history[1].ID)

	resp = env.do(t, http.MethodDelete, "/api/rooms/r1/participants", token, nil)
	assert.Equal(t, http.StatusNoContent, resp.Code)
	resp = env.do(t, http.MethodPost, "/api/rooms/r1/messages", token, SendMessageRequest{Content: "bye"})
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestRealtimeFeedPushesInserts(t *testing.T) {
	env := startTestServer(t, nil)
	token := env.token(t, "u1", "ana")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, env.wsURL("/realtime/rooms/r1"), nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	conn, _, err := websocket.Dial(ctx, env.wsURL("/realtime/rooms/r1?access_token="+token), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var frame proto.Inbound
	require.NoError(t, wsjson.Read(ctx, conn, &frame))
	require.Equal(t, proto.TypeSubscribed, frame.Type)

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/api/rooms/r1/participants", token, nil).Code)
	created := env.do(t, http.MethodPost, "/api/rooms/r1/messages", token, SendMessageRequest{Content: "gg"})
	require.Equal(t, http.StatusCreated, created.Code)

	var want proto.StoredMessage
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &want))

	var inserts []proto.StoredMessage
	for len(inserts) < 2 {
		require.NoError(t, wsjson.Read(ctx, conn, &frame))
		require.Equal(t, proto.TypeInsert, frame.Type)
		var msg proto.StoredMessage
		require.NoError(t, json.Unmarshal(frame.Data, &msg))
		inserts = append(inserts, msg)
	}
	assert.Equal(t, "system", inserts[0].Type)
	assert.Equal(t, want.ID, inserts[1].ID)
	assert.Equal(t, "gg", inserts[1].Content)
}

func TestCORSPreflight(t *testing.T) {
	env := startTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/rooms/r1/messages", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")

	resp := httptest.NewRecorder()
	env.ts.Config.Handler.ServeHTTP(resp, req)

	assert.Equal(t, "http://localhost:5173", resp.Header().Get("Access-Control-Allow-Origin"))
}

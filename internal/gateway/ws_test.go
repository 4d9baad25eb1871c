package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	if query != "" {
		u += "?" + query
	}
	return u
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

func TestWSServer_RejectsBeforeUpgrade(t *testing.T) {
	env := newTestEnv(t)
	g := env.gateway(t, "a", nil, nil)
	srv := httptest.NewServer(NewWSServer(g, nil))
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body frame
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, domain.EventUnauthorized, body.Event)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "token="+env.token(t, "t1", "u1")+"&session_id=missing"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Zero(t, g.ConnectionCount())
}

func TestWSServer_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	g := env.gateway(t, "a", nil, nil)
	srv := httptest.NewServer(NewWSServer(g, []string{"*"}))
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+env.token(t, "t1", "u1"))
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.NoError(t, err)

	require.NoError(t, ws.WriteJSON(map[string]any{
		"event":      domain.EventSessionCreate,
		"request_id": "req-1",
		"data":       map[string]any{"metadata": map[string]any{"channel": "web"}},
	}))

	f := readFrame(t, ws)
	assert.Equal(t, domain.EventSessionCreated, f.Event)
	assert.Equal(t, "req-1", f.RequestID)
	assert.NotZero(t, f.Timestamp)

	var session domain.Session
	require.NoError(t, json.Unmarshal(f.Data, &session))
	assert.Equal(t, "t1", session.TenantID)
	assert.Equal(t, "web", session.Metadata["channel"])

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("garbage")))
	f = readFrame(t, ws)
	assert.Equal(t, domain.EventError, f.Event)

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool { return g.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	assert.Equal(t, "from-query", BearerToken(r))

	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", BearerToken(r))

	r = httptest.NewRequest(http.MethodGet, "/ws?auth=legacy", nil)
	assert.Equal(t, "legacy", BearerToken(r))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(r), "non-browser clients send no origin")

	r.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(r))
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/crystal-mush/gochanserv/pkg/audit"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	entries []audit.Entry
	channel string
	limit   int
}

func (h *fakeHistory) Recent(_ context.Context, channel string, limit int) ([]audit.Entry, error) {
	h.channel, h.limit = channel, limit
	return h.entries, nil
}

func newTestWeb(t *testing.T, history AuditQuerier) (*Services, *WebServer) {
	t.Helper()
	svc, _ := newTestServices(t, nil, "")
	addUser(t, svc, "root", "sra", false)
	addUser(t, svc, "bob", "", false)
	return svc, NewWebServer(svc, history, WebConfig{JWTSecret: "test-secret", JWTExpiry: 60})
}

func doGet(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	_, ws := newTestWeb(t, nil)
	rec := doGet(t, ws.Handler(), "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, Version, body["version"])
	assert.Equal(t, 0.0, body["channels"])
}

func TestMetricsRoute(t *testing.T) {
	_, ws := newTestWeb(t, nil)
	rec := doGet(t, ws.Handler(), "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gochanserv_users_online")
}

func TestAuditListAccess(t *testing.T) {
	history := &fakeHistory{entries: []audit.Entry{{ID: "1", Action: "SET:MLOCK", Channel: "#test"}}}
	_, ws := newTestWeb(t, history)
	h := ws.Handler()

	assert.Equal(t, http.StatusUnauthorized, doGet(t, h, "/api/v1/audit", "").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(t, h, "/api/v1/audit", "garbage").Code)

	bobTok, err := ws.Auth().Issue("bob")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, doGet(t, h, "/api/v1/audit", bobTok).Code)

	rootTok, err := ws.Auth().Issue("root")
	require.NoError(t, err)
	rec := doGet(t, h, "/api/v1/audit?channel=%23test&limit=9999", rootTok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "#test", history.channel)
	assert.Equal(t, 500, history.limit)

	var body struct {
		Entries []audit.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "SET:MLOCK", body.Entries[0].Action)

	doGet(t, h, "/api/v1/audit", rootTok)
	assert.Equal(t, 50, history.limit)
	assert.Equal(t, http.StatusBadRequest, doGet(t, h, "/api/v1/audit?limit=x", rootTok).Code)
}

func TestAuditListWithoutDatabase(t *testing.T) {
	_, ws := newTestWeb(t, nil)
	tok, err := ws.Auth().Issue("root")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, doGet(t, ws.Handler(), "/api/v1/audit", tok).Code)
}

func TestAuditFeed(t *testing.T) {
	svc, ws := newTestWeb(t, nil)
	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/audit/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base+"?token=bad", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	bobTok, err := ws.Auth().Issue("bob")
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(base+"?token="+bobTok, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	tok, err := ws.Auth().Issue("root")
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(base+"?token="+tok, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "welcome", msg.Type)
	assert.Equal(t, "audit feed for root", msg.Text)

	svc.Dispatch(context.Background(), "root", "ChanServ", "REGISTER #feed")
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "audit", msg.Type)
	require.NotNil(t, msg.Entry)
	assert.Equal(t, "REGISTER", msg.Entry.Action)
	assert.Equal(t, "#feed", msg.Entry.Channel)
	assert.Equal(t, "root", msg.Entry.Actor)
}

func TestChannelListAndDrop(t *testing.T) {
	svc, ws := newTestWeb(t, nil)
	h := ws.Handler()
	ctx := context.Background()
	svc.Dispatch(ctx, "bob", "ChanServ", "REGISTER #b")
	svc.Dispatch(ctx, "root", "ChanServ", "REGISTER #a")

	rootTok, err := ws.Auth().Issue("root")
	require.NoError(t, err)
	bobTok, err := ws.Auth().Issue("bob")
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, doGet(t, h, "/api/v1/channels", bobTok).Code)
	rec := doGet(t, h, "/api/v1/channels", rootTok)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Channels []string `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"#a", "#b"}, body.Channels)

	drop := func(name, token string) int {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/channels/"+url.PathEscape(name), nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusForbidden, drop("#b", bobTok))
	assert.Equal(t, http.StatusOK, drop("#B", rootTok))
	assert.Equal(t, http.StatusNotFound, drop("#b", rootTok))

	_, ok := svc.Registry.Channel("#b")
	assert.False(t, ok)
	assert.Equal(t, 0, svc.Registry.FoundedCount("bob"))
	assert.Equal(t, []string{"#a"}, svc.Registry.ChannelNames())
}

package devserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clausedesk/clausedesk-go"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Config{
		Tokens: map[string]string{"tok-alice": "alice", "tok-bob": "bob"},
		Logger: zerolog.Nop(),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, typ clausedesk.EventType, payload any) {
	t.Helper()
	env, err := clausedesk.NewEnvelope(typ, payload)
	require.NoError(t, err)
	frame, err := clausedesk.Encode(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func read(t *testing.T, conn *websocket.Conn) clausedesk.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := clausedesk.Decode(data)
	require.NoError(t, err)
	return env
}

func login(t *testing.T, s *Server, ts *httptest.Server, user, token string) *websocket.Conn {
	t.Helper()
	conn := dial(t, ts)
	write(t, conn, clausedesk.EventAuthentication, clausedesk.AuthPayload{UserID: user, Token: token})
	env := read(t, conn)
	require.Equal(t, clausedesk.EventAuthSuccess, env.Type)
	return conn
}

func waitConnections(t *testing.T, s *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Connections() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	write(t, conn, clausedesk.EventAuthentication, clausedesk.AuthPayload{UserID: "alice", Token: "tok-bob"})
	env := read(t, conn)
	assert.Equal(t, clausedesk.EventAuthError, env.Type)

	var res clausedesk.AuthResultPayload
	require.NoError(t, env.Decode(&res))
	assert.False(t, res.Success)

	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server closes after rejecting")
}

func TestHandshakeRequiresAuthenticationFirst(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	write(t, conn, clausedesk.EventTyping, clausedesk.TypingPayload{RoomID: "r1"})
	assert.Equal(t, clausedesk.EventAuthError, read(t, conn).Type)
}

func TestNotifyPushesToOwner(t *testing.T) {
	s, ts := newTestServer(t)
	alice := login(t, s, ts, "alice", "tok-alice")
	waitConnections(t, s, 1)

	n := s.Notify(NewNotification{UserID: "alice", Title: "Draft ready", Kind: clausedesk.KindSuccess})
	env := read(t, alice)
	require.Equal(t, clausedesk.EventNotification, env.Type)

	var got clausedesk.Notification
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, "Draft ready", got.Title)
	assert.Len(t, s.Notifications("alice"), 1)
	assert.Empty(t, s.Notifications("bob"))
}

func TestRelay(t *testing.T) {
	s, ts := newTestServer(t)
	alice := login(t, s, ts, "alice", "tok-alice")
	bob := login(t, s, ts, "bob", "tok-bob")
	waitConnections(t, s, 2)

	write(t, alice, clausedesk.EventTyping, clausedesk.TypingPayload{RoomID: "r1", IsTyping: true})
	env := read(t, bob)
	require.Equal(t, clausedesk.EventTyping, env.Type)
	var typing clausedesk.TypingPayload
	require.NoError(t, env.Decode(&typing))
	assert.Equal(t, clausedesk.TypingPayload{RoomID: "r1", UserID: "alice", IsTyping: true}, typing)

	write(t, bob, clausedesk.EventChatMessage, clausedesk.ChatMessagePayload{ClientID: "c-1", RoomID: "r1", Content: "Looks good"})
	for _, conn := range []*websocket.Conn{alice, bob} {
		env := read(t, conn)
		require.Equal(t, clausedesk.EventChatMessage, env.Type)
		var msg clausedesk.ChatMessagePayload
		require.NoError(t, env.Decode(&msg))
		assert.Equal(t, "c-1", msg.ClientID)
		assert.Equal(t, "bob", msg.SenderID)
		assert.NotEmpty(t, msg.ID)
	}
}

func TestRESTRequiresBearer(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/notifications")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	client := clausedesk.NewClient("nope", clausedesk.WithBaseURL(ts.URL))
	_, err = client.Notifications().List(context.Background())
	var apiErr *clausedesk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "unauthorized", apiErr.Code)
}

func TestRESTNotificationLifecycle(t *testing.T) {
	s, ts := newTestServer(t)
	ctx := context.Background()
	client := clausedesk.NewClient("tok-alice", clausedesk.WithBaseURL(ts.URL))

	s.Notify(NewNotification{UserID: "alice", Title: "one"})
	second := s.Notify(NewNotification{UserID: "alice", Title: "two"})

	list, err := client.Notifications().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, list.UnreadCount)
	assert.Equal(t, second.ID, list.Notifications[0].ID)

	require.NoError(t, client.Notifications().MarkRead(ctx, second.ID))
	list, err = client.Notifications().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, list.UnreadCount)

	err = client.Notifications().MarkRead(ctx, 999)
	var apiErr *clausedesk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	require.NoError(t, client.Notifications().MarkAllRead(ctx))
	list, err = client.Notifications().List(ctx)
	require.NoError(t, err)
	assert.Zero(t, list.UnreadCount)
}

func TestCreateNotificationEndpoint(t *testing.T) {
	s, ts := newTestServer(t)
	body := strings.NewReader(`{"userId":"bob","title":"Review requested","type":"warning"}`)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/notifications", body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok-alice")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	ns := s.Notifications("bob")
	require.Len(t, ns, 1)
	assert.Equal(t, clausedesk.KindWarning, ns[0].Kind)
}

func TestDropConnections(t *testing.T) {
	s, ts := newTestServer(t)
	login(t, s, ts, "alice", "tok-alice")
	waitConnections(t, s, 1)

	s.DropConnections()
	waitConnections(t, s, 0)
}

package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/app/backend"
	"chatsync/internal/app/relay"
	"chatsync/internal/configs"
	"chatsync/internal/pkg/auth/jwt"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/randx"
	"chatsync/internal/pkg/resp"
)

const testSecret = "handler-test-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	manager := relay.NewManager(relay.Options{JWTSecret: testSecret})
	srv := httptest.NewServer(Router(&AppDeps{
		Manager: manager,
		Config: &configs.RelayConfig{
			Environment: configs.EnvProduction,
			JWTSecret:   testSecret,
		},
	}))

	t.Cleanup(func() {
		manager.Shutdown()
		srv.Close()
	})
	return srv
}

func postToken(t *testing.T, srv *httptest.Server, input relay.ChannelTokenRequest, bearer string) (int, resp.JSONResponse) {
	t.Helper()

	body, err := json.Marshal(input)
	require.NoError(t, err)

	r, err := http.NewRequest(http.MethodPost, srv.URL+"/api/channel/token", bytes.NewReader(body))
	require.NoError(t, err)
	r.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	defer res.Body.Close()

	var out resp.JSONResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

func channelToken(t *testing.T, srv *httptest.Server, topic, key, nickname string) string {
	t.Helper()

	status, out := postToken(t, srv, relay.ChannelTokenRequest{Topic: topic, Key: key, Nickname: nickname}, "")
	require.Equal(t, http.StatusOK, status, out.Message)

	var data relay.ChannelTokenResponse
	require.NoError(t, json.Unmarshal(out.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

func wsURL(srv *httptest.Server, topic, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + topic + "?token=" + url.QueryEscape(token)
}

func dial(t *testing.T, srv *httptest.Server, topic, token string) *websocket.Conn {
	t.Helper()

	conn, res, err := websocket.DefaultDialer.Dial(wsURL(srv, topic, token), nil)
	require.NoError(t, err)
	res.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) relay.Frame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f relay.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	res, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestChannelTokenValidation(t *testing.T) {
	srv := newTestServer(t)
	topic := backend.RoomTopic(randx.NewID())
	identityKey := randx.NewID()

	userToken, err := jwt.GenerateToken(&jwt.Payload{ID: "u1", UserType: jwt.UserTypeRegistered}, testSecret, jwt.UserIdentityExpiration)
	require.NoError(t, err)

	tests := []struct {
		name       string
		input      relay.ChannelTokenRequest
		bearer     string
		wantStatus int
		wantCode   int
	}{
		{"anonymous identity", relay.ChannelTokenRequest{Topic: topic, Key: identityKey, Nickname: "Quiet Fox", Color: "#22c55e"}, "", http.StatusOK, 0},
		{"signed-in member as themselves", relay.ChannelTokenRequest{Topic: topic, Key: backend.UserMemberKey("u1"), Nickname: "Ada"}, userToken, http.StatusOK, 0},
		{"account key without identity", relay.ChannelTokenRequest{Topic: topic, Key: backend.UserMemberKey("u1"), Nickname: "Ada"}, "", http.StatusUnauthorized, errs.ErrUnauthorized},
		{"account key of someone else", relay.ChannelTokenRequest{Topic: topic, Key: backend.UserMemberKey("u2"), Nickname: "Ada"}, userToken, http.StatusUnauthorized, errs.ErrUnauthorized},
		{"malformed identity key", relay.ChannelTokenRequest{Topic: topic, Key: "not-an-id", Nickname: "x"}, "", http.StatusOK, errs.ErrInvalidParams},
		{"invalid topic", relay.ChannelTokenRequest{Topic: "lobby", Key: identityKey, Nickname: "x"}, "", http.StatusOK, errs.ErrTopicInvalid},
		{"blank nickname", relay.ChannelTokenRequest{Topic: topic, Key: identityKey, Nickname: "   "}, "", http.StatusOK, errs.ErrInvalidParams},
		{"bad color", relay.ChannelTokenRequest{Topic: topic, Key: identityKey, Nickname: "x", Color: "green"}, "", http.StatusOK, errs.ErrInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := postToken(t, srv, tt.input, tt.bearer)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, out.Code, out.Message)
		})
	}
}

func TestRelayPresenceTypingAndSenderExclusion(t *testing.T) {
	srv := newTestServer(t)
	topic := backend.RoomTopic(randx.NewID())
	keyA, keyB := randx.NewID(), randx.NewID()

	a := dial(t, srv, topic, channelToken(t, srv, topic, keyA, "Alpha"))
	sync := readFrame(t, a)
	require.Equal(t, relay.FrameEvent, sync.Type)
	assert.Equal(t, backend.PresenceSync, sync.Event.Kind)
	require.Len(t, sync.Event.Members, 1)
	assert.Equal(t, "Alpha", sync.Event.Members[0].DisplayName)

	b := dial(t, srv, topic, channelToken(t, srv, topic, keyB, "Beta"))
	assert.Len(t, readFrame(t, b).Event.Members, 2)

	join := readFrame(t, a)
	assert.Equal(t, backend.PresenceJoin, join.Event.Kind)
	assert.Equal(t, keyB, join.Event.From.Key)

	require.NoError(t, b.WriteJSON(relay.InboundFrame{Kind: backend.BroadcastTyping}))

	typing := readFrame(t, a)
	assert.Equal(t, backend.BroadcastTyping, typing.Event.Kind)
	assert.Equal(t, keyB, typing.Event.From.Key)
	assert.Equal(t, "Beta", typing.Event.From.DisplayName)

	require.NoError(t, b.Close())

	leave := readFrame(t, a)
	assert.Equal(t, backend.PresenceLeave, leave.Event.Kind)
	assert.Equal(t, keyB, leave.Event.From.Key)
}

func TestRelayKicksReplacedConnection(t *testing.T) {
	srv := newTestServer(t)
	topic := backend.RoomTopic(randx.NewID())
	key := randx.NewID()

	first := dial(t, srv, topic, channelToken(t, srv, topic, key, "Same"))
	readFrame(t, first)

	second := dial(t, srv, topic, channelToken(t, srv, topic, key, "Same"))
	readFrame(t, second)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, relay.CloseSessionKicked), "got %v", err)
}

func TestWebSocketRejectsTokenForAnotherTopic(t *testing.T) {
	srv := newTestServer(t)
	topic := backend.RoomTopic(randx.NewID())
	other := backend.RoomTopic(randx.NewID())

	token := channelToken(t, srv, topic, randx.NewID(), "Sneaky")

	_, res, err := websocket.DefaultDialer.Dial(wsURL(srv, other, token), nil)
	require.Error(t, err)
	require.NotNil(t, res)
	defer res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	srv := newTestServer(t)
	topic := backend.RoomTopic(randx.NewID())
	token := channelToken(t, srv, topic, randx.NewID(), "Browser")

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, res, err := websocket.DefaultDialer.Dial(wsURL(srv, topic, token), header)
	require.Error(t, err)
	require.NotNil(t, res)
	defer res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

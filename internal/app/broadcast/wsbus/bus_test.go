package wsbus

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/app/backend"
	"chatsync/internal/app/relay"
	"chatsync/internal/configs"
	"chatsync/internal/handler"
	"chatsync/internal/pkg/auth/jwt"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/randx"
)

const testSecret = "wsbus-test-secret"

type recorder struct {
	mu     sync.Mutex
	events []backend.BroadcastEvent
}

func (r *recorder) handle(e backend.BroadcastEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) has(kind backend.BroadcastKind, fromKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind && e.From.Key == fromKey {
			return true
		}
	}
	return false
}

func newRelay(t *testing.T) (*httptest.Server, *relay.Manager) {
	t.Helper()

	manager := relay.NewManager(relay.Options{JWTSecret: testSecret})
	srv := httptest.NewServer(handler.Router(&handler.AppDeps{
		Manager: manager,
		Config:  &configs.RelayConfig{Environment: configs.EnvDevelopment, JWTSecret: testSecret},
	}))
	t.Cleanup(func() {
		manager.Shutdown()
		srv.Close()
	})
	return srv, manager
}

func newBus(t *testing.T, srv *httptest.Server, identityToken string) *Bus {
	t.Helper()
	b, err := New(Options{BaseURL: srv.URL, IdentityToken: identityToken, ReconnectMin: 20 * time.Millisecond})
	require.NoError(t, err)
	return b
}

func TestNewValidatesURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8080", "ftp://relay.example"} {
		_, err := New(Options{BaseURL: raw})
		assert.Error(t, err, raw)
	}

	b, err := New(Options{BaseURL: "https://relay.example/"})
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example/ws/room:1?token=t", b.topicURL("room:1", "t"))
}

func TestJoinPublishAndPresence(t *testing.T) {
	srv, _ := newRelay(t)
	ctx := context.Background()
	topic := backend.RoomTopic(randx.NewID())

	alice := backend.Member{Key: randx.NewID(), DisplayName: "Alice", Color: "#3b82f6"}
	bob := backend.Member{Key: randx.NewID(), DisplayName: "Bob"}

	var aliceEvents, bobEvents recorder

	chA, err := newBus(t, srv, "").Join(ctx, topic, alice, aliceEvents.handle)
	require.NoError(t, err)
	defer chA.Leave()

	require.Eventually(t, func() bool { return aliceEvents.has(backend.PresenceSync, alice.Key) }, 2*time.Second, 10*time.Millisecond)

	chB, err := newBus(t, srv, "").Join(ctx, topic, bob, bobEvents.handle)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return aliceEvents.has(backend.PresenceJoin, bob.Key) }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(chB.Members()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, len(chA.Members()))

	require.NoError(t, chB.Publish(ctx, backend.BroadcastTyping))
	require.Eventually(t, func() bool { return aliceEvents.has(backend.BroadcastTyping, bob.Key) }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, bobEvents.has(backend.BroadcastTyping, bob.Key))

	require.NoError(t, chB.Leave())
	require.NoError(t, chB.Leave())
	require.Eventually(t, func() bool { return aliceEvents.has(backend.PresenceLeave, bob.Key) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []backend.Member{alice}, chA.Members())

	err = chB.Publish(ctx, backend.BroadcastTyping)
	assert.True(t, errs.HasCode(err, errs.ErrBackendUnavailable))
}

func TestPublishRejectsPresenceKinds(t *testing.T) {
	srv, _ := newRelay(t)
	topic := backend.RoomTopic(randx.NewID())

	ch, err := newBus(t, srv, "").Join(context.Background(), topic, backend.Member{Key: randx.NewID(), DisplayName: "x"}, func(backend.BroadcastEvent) {})
	require.NoError(t, err)
	defer ch.Leave()

	err = ch.Publish(context.Background(), backend.PresenceJoin)
	assert.True(t, errs.HasCode(err, errs.ErrInvalidParams))
}

func TestJoinAsAccountRequiresIdentityToken(t *testing.T) {
	srv, _ := newRelay(t)
	topic := backend.RoomTopic(randx.NewID())
	self := backend.Member{Key: backend.UserMemberKey("u1"), DisplayName: "Ada"}

	_, err := newBus(t, srv, "").Join(context.Background(), topic, self, func(backend.BroadcastEvent) {})
	assert.True(t, errs.HasCode(err, errs.ErrUnauthorized), "got %v", err)

	token, err := jwt.GenerateToken(&jwt.Payload{ID: "u1", UserType: jwt.UserTypeRegistered}, testSecret, jwt.UserIdentityExpiration)
	require.NoError(t, err)

	ch, err := newBus(t, srv, token).Join(context.Background(), topic, self, func(backend.BroadcastEvent) {})
	require.NoError(t, err)
	require.NoError(t, ch.Leave())
}

func TestKickedChannelDoesNotReconnect(t *testing.T) {
	srv, manager := newRelay(t)
	topic := backend.RoomTopic(randx.NewID())
	self := backend.Member{Key: randx.NewID(), DisplayName: "Twin"}

	var first, second recorder
	chFirst, err := newBus(t, srv, "").Join(context.Background(), topic, self, first.handle)
	require.NoError(t, err)
	defer chFirst.Leave()

	require.Eventually(t, func() bool { return first.has(backend.PresenceSync, self.Key) }, 2*time.Second, 10*time.Millisecond)

	chSecond, err := newBus(t, srv, "").Join(context.Background(), topic, self, second.handle)
	require.NoError(t, err)
	defer chSecond.Leave()

	require.Eventually(t, func() bool { return second.has(backend.PresenceSync, self.Key) }, 2*time.Second, 10*time.Millisecond)

	// A reconnecting first channel would kick the second one and deliver it a new sync.
	time.Sleep(200 * time.Millisecond)
	second.mu.Lock()
	syncs := 0
	for _, e := range second.events {
		if e.Kind == backend.PresenceSync {
			syncs++
		}
	}
	second.mu.Unlock()
	assert.Equal(t, 1, syncs)
	assert.Len(t, manager.Topic(topic).Members(), 1)
}

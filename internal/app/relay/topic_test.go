package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/app/backend"
	"chatsync/internal/pkg/auth/jwt"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/randx"
)

func testTopic() string {
	return backend.RoomTopic(randx.NewID())
}

// testClient builds a client without a connection; frames are read straight
// from its send queue.
func testClient(key, topic string) *Client {
	return NewClient(nil, &jwt.Payload{ID: key, Topic: topic, Nickname: "name-" + key})
}

func nextFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		require.True(t, ok, "send queue of %s closed", c.member.Key)
		var f Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame for %s", c.member.Key)
		return Frame{}
	}
}

func noFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		if ok {
			t.Fatalf("unexpected frame for %s: %s", c.member.Key, raw)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func waitClosed(t *testing.T, c *Client) {
	t.Helper()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-c.send:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	m := NewManager(opts)
	t.Cleanup(m.Shutdown)
	return m
}

func TestAttachSendsPresenceSyncAndJoin(t *testing.T) {
	m := newTestManager(t, Options{})
	topic := testTopic()

	a := testClient("a", topic)
	require.NoError(t, m.Attach(a))

	sync := nextFrame(t, a)
	require.Equal(t, FrameEvent, sync.Type)
	assert.Equal(t, backend.PresenceSync, sync.Event.Kind)
	assert.Equal(t, []backend.Member{a.Member()}, sync.Event.Members)

	b := testClient("b", topic)
	require.NoError(t, m.Attach(b))

	bSync := nextFrame(t, b)
	assert.Equal(t, backend.PresenceSync, bSync.Event.Kind)
	assert.Equal(t, []backend.Member{a.Member(), b.Member()}, bSync.Event.Members)

	join := nextFrame(t, a)
	assert.Equal(t, backend.PresenceJoin, join.Event.Kind)
	assert.Equal(t, "b", join.Event.From.Key)
	assert.Equal(t, "name-b", join.Event.From.DisplayName)

	assert.Len(t, m.Topic(topic).Members(), 2)
	assert.Equal(t, 1, m.TopicCount())
}

func TestPublishExcludesSender(t *testing.T) {
	m := newTestManager(t, Options{})
	topic := testTopic()

	a, b := testClient("a", topic), testClient("b", topic)
	require.NoError(t, m.Attach(a))
	require.NoError(t, m.Attach(b))
	nextFrame(t, a) // sync
	nextFrame(t, a) // join b
	nextFrame(t, b) // sync

	b.processInboundFrame([]byte(`{"kind":"typing"}`))

	typing := nextFrame(t, a)
	assert.Equal(t, backend.BroadcastTyping, typing.Event.Kind)
	assert.Equal(t, "b", typing.Event.From.Key)
	assert.Equal(t, topic, typing.Event.Topic)
	noFrame(t, b)
}

func TestInboundFrameValidation(t *testing.T) {
	m := newTestManager(t, Options{})
	topic := testTopic()

	a := testClient("a", topic)
	require.NoError(t, m.Attach(a))
	nextFrame(t, a)

	a.processInboundFrame([]byte(`{"kind":"presence_join"}`))
	f := nextFrame(t, a)
	require.Equal(t, FrameError, f.Type)
	assert.Equal(t, errs.ErrInvalidParams, f.Error.Code)

	a.processInboundFrame([]byte(`not json`))
	f = nextFrame(t, a)
	require.Equal(t, FrameError, f.Type)
	assert.Equal(t, errs.ErrInvalidJSONFormat, f.Error.Code)
}

func TestDuplicateKeyKicksOlderConnection(t *testing.T) {
	m := newTestManager(t, Options{})
	topic := testTopic()

	other := testClient("other", topic)
	require.NoError(t, m.Attach(other))
	nextFrame(t, other)

	first := testClient("dup", topic)
	require.NoError(t, m.Attach(first))
	nextFrame(t, first)
	nextFrame(t, other) // join dup

	second := testClient("dup", topic)
	require.NoError(t, m.Attach(second))

	waitClosed(t, first)
	first.mu.Lock()
	assert.Equal(t, CloseSessionKicked, first.closeCode)
	first.mu.Unlock()

	sync := nextFrame(t, second)
	assert.Equal(t, backend.PresenceSync, sync.Event.Kind)
	assert.Len(t, sync.Event.Members, 2)

	// The replaced connection leaving must not remove the new one.
	m.Topic(topic).remove(first)
	noFrame(t, other)
	assert.Len(t, m.Topic(topic).Members(), 2)
}

func TestTopicRejectsWhenFull(t *testing.T) {
	m := newTestManager(t, Options{MaxMembers: 1})
	topic := testTopic()

	a := testClient("a", topic)
	require.NoError(t, m.Attach(a))
	nextFrame(t, a)

	b := testClient("b", topic)
	require.NoError(t, m.Attach(b))

	f := nextFrame(t, b)
	require.Equal(t, FrameError, f.Type)
	assert.Equal(t, errs.ErrTopicFull, f.Error.Code)
	waitClosed(t, b)
	noFrame(t, a)

	// Reconnecting with a present key is a replacement, not a new member.
	a2 := testClient("a", topic)
	require.NoError(t, m.Attach(a2))
	assert.Equal(t, backend.PresenceSync, nextFrame(t, a2).Event.Kind)
}

func TestLeaveNotifiesRemainingMembers(t *testing.T) {
	m := newTestManager(t, Options{})
	topic := testTopic()

	a, b := testClient("a", topic), testClient("b", topic)
	require.NoError(t, m.Attach(a))
	require.NoError(t, m.Attach(b))
	nextFrame(t, a)
	nextFrame(t, a)
	nextFrame(t, b)

	m.Topic(topic).remove(b)

	leave := nextFrame(t, a)
	assert.Equal(t, backend.PresenceLeave, leave.Event.Kind)
	assert.Equal(t, "b", leave.Event.From.Key)
	waitClosed(t, b)
}

func TestEmptyTopicShutsDownAfterInactivity(t *testing.T) {
	m := newTestManager(t, Options{InactivityTimeout: 50 * time.Millisecond})
	topic := testTopic()

	a := testClient("a", topic)
	require.NoError(t, m.Attach(a))
	nextFrame(t, a)

	tp := m.Topic(topic)
	tp.remove(a)

	select {
	case <-tp.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("topic did not shut down")
	}
	require.Eventually(t, func() bool { return m.TopicCount() == 0 }, time.Second, 10*time.Millisecond)

	// A later join starts a fresh topic.
	b := testClient("b", topic)
	require.NoError(t, m.Attach(b))
	assert.Equal(t, backend.PresenceSync, nextFrame(t, b).Event.Kind)
	assert.NotSame(t, tp, m.Topic(topic))
}

func TestAttachValidatesTopic(t *testing.T) {
	m := newTestManager(t, Options{})

	err := m.Attach(testClient("a", "lobby"))
	assert.True(t, errs.HasCode(err, errs.ErrTopicInvalid))
}

func TestShutdownDisconnectsMembers(t *testing.T) {
	m := NewManager(Options{})
	topic := testTopic()

	a := testClient("a", topic)
	require.NoError(t, m.Attach(a))
	nextFrame(t, a)

	m.Shutdown()

	waitClosed(t, a)
	assert.Equal(t, 0, m.TopicCount())

	err := m.Attach(testClient("b", topic))
	assert.True(t, errs.HasCode(err, errs.ErrBackendUnavailable))
}

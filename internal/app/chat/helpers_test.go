package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"chatsync/internal/app/backend/memstore"
	"chatsync/internal/app/model"
	"chatsync/internal/app/user"
	"chatsync/internal/pkg/randx"
)

var (
	alice = user.Profile{ID: "u-alice", Username: "alice", DisplayName: "Alice", OnboardingCompleted: true}
	carol = user.Profile{ID: "u-carol", Username: "carol"}
)

type staticCaller struct {
	profile *user.Profile
}

func (c staticCaller) CurrentUser(context.Context) (*user.Profile, error) {
	return c.profile, nil
}

type memPersister struct {
	mu    sync.Mutex
	prefs *Prefs
	saves int
}

func (p *memPersister) Load(context.Context) (Prefs, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prefs == nil {
		return Prefs{}, false, nil
	}
	return *p.prefs, true, nil
}

func (p *memPersister) Save(_ context.Context, prefs Prefs) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prefs = &prefs
	p.saves++
	return nil
}

type fixture struct {
	store     *memstore.Store
	directory *Directory
	resolver  *Resolver
	messages  *MessageStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memstore.New()
	store.PutProfile(alice)
	store.PutProfile(carol)

	directory := NewDirectory(store, &RoomCache{})
	resolver := NewResolver(store, 0)
	return &fixture{
		store:     store,
		directory: directory,
		resolver:  resolver,
		messages:  NewMessageStore(store, directory, resolver),
	}
}

func (f *fixture) room(t *testing.T, name string, anonymous bool) *model.Room {
	t.Helper()
	r, err := f.directory.CreateRoom(context.Background(), CreateRoomInput{Name: name, IsAnonymous: anonymous})
	require.NoError(t, err)
	return r
}

func sessionToken(t *testing.T) string {
	t.Helper()
	token, err := randx.SessionToken()
	require.NoError(t, err)
	return token
}

func allCalls(s *memstore.Store) int {
	total := 0
	for _, op := range []memstore.Op{
		memstore.OpListRooms, memstore.OpGetRoom, memstore.OpInsertRoom,
		memstore.OpFindIdentity, memstore.OpInsertIdentity,
		memstore.OpListMessages, memstore.OpGetMessage, memstore.OpInsertMessage,
		memstore.OpUpdateMessage, memstore.OpDeleteMessage, memstore.OpGetProfile,
	} {
		total += s.Calls(op)
	}
	return total
}

func approve(context.Context, string) (bool, error) { return true, nil }

func decline(context.Context, string) (bool, error) { return false, nil }

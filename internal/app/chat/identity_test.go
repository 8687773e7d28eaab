package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/app/backend/memstore"
	"chatsync/internal/app/model"
	"chatsync/internal/pkg/errs"
)

func TestResolver_GetOrCreateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.room(t, "watercooler", true)
	token := sessionToken(t)

	first, err := f.resolver.GetOrCreate(ctx, room.ID, token, "")
	require.NoError(t, err)
	second, err := f.resolver.GetOrCreate(ctx, room.ID, token, "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.DisplayName, second.DisplayName)
	assert.Equal(t, first.Color, second.Color)
	assert.NotEmpty(t, first.DisplayName)
	assert.Equal(t, 1, f.store.Calls(memstore.OpInsertIdentity))

	other, err := f.resolver.GetOrCreate(ctx, room.ID, sessionToken(t), "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestResolver_ConcurrentFirstCallsShareOneIdentity(t *testing.T) {
	f := newFixture(t)
	room := f.room(t, "watercooler", true)
	token := sessionToken(t)

	// Two resolvers play two tabs: both miss the lookup before either inserts.
	var mu sync.Mutex
	finds := 0
	release := make(chan struct{})
	f.store.SetHook(func(ctx context.Context, op memstore.Op, _ string) error {
		if op != memstore.OpFindIdentity {
			return nil
		}
		mu.Lock()
		finds++
		n := finds
		if n == 2 {
			close(release)
		}
		mu.Unlock()

		if n <= 2 {
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	tabs := []*Resolver{NewResolver(f.store, 0), NewResolver(f.store, 0)}
	ids := make([]string, len(tabs))
	var wg sync.WaitGroup
	for i, r := range tabs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			identity, err := r.GetOrCreate(context.Background(), room.ID, token, "")
			if assert.NoError(t, err) {
				ids[i] = identity.ID
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, 2, f.store.Calls(memstore.OpInsertIdentity))

	stored, err := f.store.FindIdentity(context.Background(), room.ID, model.IdentityOwner{SessionToken: token})
	require.NoError(t, err)
	assert.Equal(t, ids[0], stored.ID)
}

func TestResolver_SingleflightCollapsesCallers(t *testing.T) {
	f := newFixture(t)
	room := f.room(t, "watercooler", true)
	token := sessionToken(t)

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			identity, err := f.resolver.GetOrCreate(context.Background(), room.ID, token, "")
			if assert.NoError(t, err) {
				ids[i] = identity.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestResolver_CancelledCallerDoesNotFailOthers(t *testing.T) {
	f := newFixture(t)
	room := f.room(t, "watercooler", true)
	token := sessionToken(t)

	release := make(chan struct{})
	f.store.SetHook(func(ctx context.Context, op memstore.Op, _ string) error {
		if op != memstore.OpFindIdentity {
			return nil
		}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.resolver.GetOrCreate(first, room.ID, token, "")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return f.store.Calls(memstore.OpFindIdentity) == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		identity *model.AnonymousIdentity
		err      error
	}
	second := make(chan result, 1)
	go func() {
		identity, err := f.resolver.GetOrCreate(context.Background(), room.ID, token, "")
		second <- result{identity, err}
	}()

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.NotEmpty(t, res.identity.ID)
	case <-time.After(time.Second):
		t.Fatal("second caller did not finish")
	}
}

func TestResolver_OwnerRequired(t *testing.T) {
	f := newFixture(t)
	room := f.room(t, "watercooler", true)

	_, err := f.resolver.GetOrCreate(context.Background(), room.ID, "", "")
	assert.True(t, errs.HasCode(err, errs.ErrIdentityOwnerMissing))
	assert.Zero(t, f.store.Calls(memstore.OpFindIdentity))
}

func TestResolver_Lookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.room(t, "watercooler", true)
	token := sessionToken(t)

	missing, err := f.resolver.Lookup(ctx, room.ID, token, "")
	require.NoError(t, err)
	assert.Nil(t, missing)

	created, err := f.resolver.GetOrCreate(ctx, room.ID, token, "")
	require.NoError(t, err)

	found, err := f.resolver.Lookup(ctx, room.ID, token, "")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)
}

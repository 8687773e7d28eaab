package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/app/backend/memstore"
	"chatsync/internal/pkg/errs"
)

func TestDirectory_CreateRoomValidation(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantCode int
	}{
		{name: "empty", input: "", wantCode: errs.ErrRoomNameEmpty},
		{name: "whitespace", input: "  \t ", wantCode: errs.ErrRoomNameEmpty},
		{name: "too long", input: strings.Repeat("r", MaxRoomNameRunes+1), wantCode: errs.ErrRoomNameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.directory.CreateRoom(context.Background(), CreateRoomInput{Name: tt.input})
			require.Error(t, err)
			assert.True(t, errs.HasCode(err, tt.wantCode))
			assert.Equal(t, errs.CategoryValidation, errs.CategoryOf(err))
			assert.Zero(t, allCalls(f.store))
		})
	}
}

func TestDirectory_ListRoomsCachesUntilInvalidated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.room(t, "general", false)
	second := f.room(t, "watercooler", true)

	rooms, err := f.directory.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, second.ID, rooms[0].ID)
	assert.Equal(t, first.ID, rooms[1].ID)

	_, err = f.directory.ListRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.Calls(memstore.OpListRooms))

	f.directory.InvalidateRooms()
	_, err = f.directory.ListRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.Calls(memstore.OpListRooms))
}

func TestDirectory_GetRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.room(t, "  general  ", false)
	assert.Equal(t, "general", room.Name)

	got, err := f.directory.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)

	_, err = f.directory.GetRoom(ctx, "missing")
	assert.True(t, errs.HasCode(err, errs.ErrRoomNotFound))
	assert.Equal(t, errs.CategoryNotFound, errs.CategoryOf(err))
}

func TestDirectory_ConfigurationErrorIsDistinct(t *testing.T) {
	f := newFixture(t)
	f.store.SetHook(func(_ context.Context, op memstore.Op, _ string) error {
		if op == memstore.OpListRooms {
			return errs.NewError(errs.ErrRelationMissing)
		}
		return nil
	})

	_, err := f.directory.ListRooms(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.CategoryConfiguration, errs.CategoryOf(err))
	assert.False(t, errs.Retryable(err))
	assert.Contains(t, errs.Guidance(err), "migrate")
}

package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"chatsync/internal/app/backend"
	"chatsync/internal/app/model"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
)

const (
	// MaxRoomNameRunes is the longest accepted room name.
	MaxRoomNameRunes = 80

	// MaxRoomDescriptionRunes is the longest accepted room description.
	MaxRoomDescriptionRunes = 500
)

// CreateRoomInput holds the fields of a new room.
type CreateRoomInput struct {
	Name        string
	Description string
	IsAnonymous bool
	CreatorID   string
}

// Directory lists and creates rooms through the room-list cache.
type Directory struct {
	store  backend.Store
	cache  *RoomCache
	logger zerolog.Logger
}

// NewDirectory constructs a Directory.
func NewDirectory(store backend.Store, cache *RoomCache) *Directory {
	if cache == nil {
		cache = &RoomCache{}
	}
	return &Directory{
		store:  store,
		cache:  cache,
		logger: logx.Component("room_directory"),
	}
}

// ListRooms returns rooms newest first, from cache when valid.
func (d *Directory) ListRooms(ctx context.Context) ([]model.Room, error) {
	if rooms, ok := d.cache.Get(); ok {
		return rooms, nil
	}

	gen := d.cache.Generation()
	rooms, err := d.store.ListRooms(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Str("category", string(errs.CategoryOf(err))).Msg("Failed to list rooms.")
		return nil, err
	}

	if !d.cache.Fill(gen, rooms) {
		d.logger.Debug().Msg("Room list changed during fetch; result not cached.")
	}
	return rooms, nil
}

// GetRoom returns room metadata, consulting the cached list first.
func (d *Directory) GetRoom(ctx context.Context, roomID string) (*model.Room, error) {
	if roomID == "" {
		return nil, errs.NewError(errs.ErrRoomNotFound)
	}
	if r, ok := d.cache.Find(roomID); ok {
		return &r, nil
	}
	return d.store.GetRoom(ctx, roomID)
}

// CreateRoom validates and inserts a room. The policy flag cannot be changed later.
func (d *Directory) CreateRoom(ctx context.Context, in CreateRoomInput) (*model.Room, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errs.NewError(errs.ErrRoomNameEmpty)
	}
	if utf8.RuneCountInString(name) > MaxRoomNameRunes {
		return nil, errs.NewError(errs.ErrRoomNameTooLong, MaxRoomNameRunes)
	}

	description := strings.TrimSpace(in.Description)
	if utf8.RuneCountInString(description) > MaxRoomDescriptionRunes {
		return nil, errs.NewError(errs.ErrInvalidParams)
	}

	room, err := d.store.InsertRoom(ctx, model.NewRoom{
		Name:        name,
		Description: description,
		IsAnonymous: in.IsAnonymous,
		CreatedBy:   in.CreatorID,
	})
	if err != nil {
		return nil, err
	}

	d.cache.Invalidate()

	d.logger.Info().
		Str("room_id", room.ID).
		Bool("is_anonymous", room.IsAnonymous).
		Msg("Room created.")
	return room, nil
}

// InvalidateRooms drops the cached room list.
func (d *Directory) InvalidateRooms() {
	d.cache.Invalidate()
}

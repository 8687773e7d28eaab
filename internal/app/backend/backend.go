/*
Package backend describes everything the chat client needs from the outside world:
a row store for rooms, identities, messages and profiles; a change feed that reports
inserts, updates and deletes; an ephemeral broadcast bus with presence; and the
current caller. Concrete substitutes live in the pgstore, memstore and broadcast
packages.

Implementations report failures as *errs.CustomError so callers can tell a missing
relation (ErrRelationMissing) from a permission failure (ErrPermissionDenied),
a vanished row (ErrRecordNotFound, ErrRoomNotFound, ErrMessageNotFound) and an
outage (ErrBackendUnavailable).
*/
package backend

import (
	"context"
	"time"

	"chatsync/internal/app/model"
	"chatsync/internal/app/user"
)

// Store is the query and mutation interface.
type Store interface {
	// ListRooms returns all rooms, newest creation first.
	ListRooms(ctx context.Context) ([]model.Room, error)
	GetRoom(ctx context.Context, roomID string) (*model.Room, error)
	InsertRoom(ctx context.Context, room model.NewRoom) (*model.Room, error)

	// FindIdentity returns ErrRecordNotFound on a miss.
	FindIdentity(ctx context.Context, roomID string, owner model.IdentityOwner) (*model.AnonymousIdentity, error)
	// InsertIdentity returns ErrDuplicate when the (room, owner) pair already exists.
	InsertIdentity(ctx context.Context, identity model.AnonymousIdentity) (*model.AnonymousIdentity, error)

	// ListMessages returns a room's messages oldest first, with author and reply joins.
	ListMessages(ctx context.Context, roomID string) ([]MessageRow, error)
	GetMessage(ctx context.Context, messageID string) (*MessageRow, error)
	// InsertMessage writes the message and the room's last-activity pointer atomically.
	InsertMessage(ctx context.Context, msg model.NewMessage) (*MessageRow, error)
	UpdateMessageContent(ctx context.Context, messageID, content string, editedAt time.Time) (*MessageRow, error)
	DeleteMessage(ctx context.Context, messageID string) error

	GetProfile(ctx context.Context, userID string) (*user.Profile, error)
}

// MessageRow is a message as returned by the store, with the joined author
// rows still in their raw nullable shape.
type MessageRow struct {
	model.Message

	Profile  *user.Profile
	Identity *model.AnonymousIdentity
	ReplyTo  *ReplyRow
}

// ReplyRow is the joined reply target.
type ReplyRow struct {
	ID       string
	Content  string
	Profile  *user.Profile
	Identity *model.AnonymousIdentity
}

// Caller answers who the current caller is. A nil profile means anonymous.
type Caller interface {
	CurrentUser(ctx context.Context) (*user.Profile, error)
}

/*
Package memstore is an in-process implementation of the backend contract.

It enforces the same rules as the postgres schema (unique identities per room owner,
immutable room policy, profile gate for identity rooms, same-room replies) so the
chat client can be exercised without a database. A Hook lets tests inject latency
and failures per operation.
*/
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatsync/internal/app/backend"
	"chatsync/internal/app/model"
	"chatsync/internal/app/user"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/randx"
)

// Op names a store operation for hooks and call counting.
type Op string

const (
	OpListRooms      Op = "list_rooms"
	OpGetRoom        Op = "get_room"
	OpInsertRoom     Op = "insert_room"
	OpFindIdentity   Op = "find_identity"
	OpInsertIdentity Op = "insert_identity"
	OpListMessages   Op = "list_messages"
	OpGetMessage     Op = "get_message"
	OpInsertMessage  Op = "insert_message"
	OpUpdateMessage  Op = "update_message"
	OpDeleteMessage  Op = "delete_message"
	OpGetProfile     Op = "get_profile"
)

// Hook runs before every operation. A non-nil error aborts the operation.
// key is the room or message ID the operation targets, when there is one.
type Hook func(ctx context.Context, op Op, key string) error

type storedMessage struct {
	model.Message
	seq int64
}

// Store is the in-memory backend. The zero value is not usable; call New.
type Store struct {
	mu sync.RWMutex

	rooms      map[string]model.Room
	identities map[string]model.AnonymousIdentity // by ID
	identityBy map[string]string                  // roomID|ownerKey -> identity ID
	messages   map[string]storedMessage
	profiles   map[string]user.Profile

	seq      int64
	lastTime time.Time
	calls    map[Op]int
	hook     Hook

	feed *backend.ChangeHub
}

var _ backend.Store = (*Store)(nil)

// New returns an empty store with its change feed.
func New() *Store {
	return &Store{
		rooms:      make(map[string]model.Room),
		identities: make(map[string]model.AnonymousIdentity),
		identityBy: make(map[string]string),
		messages:   make(map[string]storedMessage),
		profiles:   make(map[string]user.Profile),
		calls:      make(map[Op]int),
		feed:       backend.NewChangeHub("memstore_feed"),
	}
}

// Feed returns the change feed fed by this store's mutations.
func (s *Store) Feed() *backend.ChangeHub {
	return s.feed
}

// SetHook installs h, replacing any previous hook. nil removes it.
func (s *Store) SetHook(h Hook) {
	s.mu.Lock()
	s.hook = h
	s.mu.Unlock()
}

// Calls returns how many times op was invoked, including failed attempts.
func (s *Store) Calls(op Op) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// MutationCalls sums the calls of every mutating operation.
func (s *Store) MutationCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[OpInsertRoom] + s.calls[OpInsertIdentity] + s.calls[OpInsertMessage] +
		s.calls[OpUpdateMessage] + s.calls[OpDeleteMessage]
}

// PutProfile creates or replaces a profile.
func (s *Store) PutProfile(p user.Profile) {
	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()
}

// enter counts the call and runs the hook outside the lock.
func (s *Store) enter(ctx context.Context, op Op, key string) error {
	s.mu.Lock()
	s.calls[op]++
	hook := s.hook
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return errs.NewError(errs.ErrBackendUnavailable).Wrap(err)
	}
	if hook != nil {
		if err := hook(ctx, op, key); err != nil {
			return err
		}
	}
	return nil
}

// now returns a strictly increasing timestamp. Caller holds s.mu.
func (s *Store) now() time.Time {
	t := time.Now().UTC()
	if !t.After(s.lastTime) {
		t = s.lastTime.Add(time.Microsecond)
	}
	s.lastTime = t
	return t
}

func (s *Store) ListRooms(ctx context.Context) ([]model.Room, error) {
	if err := s.enter(ctx, OpListRooms, ""); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]model.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
	return rooms, nil
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*model.Room, error) {
	if err := s.enter(ctx, OpGetRoom, roomID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil, errs.NewError(errs.ErrRoomNotFound)
	}
	return &r, nil
}

func (s *Store) InsertRoom(ctx context.Context, in model.NewRoom) (*model.Room, error) {
	if err := s.enter(ctx, OpInsertRoom, ""); err != nil {
		return nil, err
	}

	s.mu.Lock()
	r := model.Room{
		ID:          randx.NewID(),
		Name:        in.Name,
		Description: in.Description,
		IsAnonymous: in.IsAnonymous,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   s.now(),
	}
	s.rooms[r.ID] = r
	s.mu.Unlock()

	s.feed.Publish(backend.Change{Table: backend.TableRooms, Event: backend.EventInsert, RowID: r.ID, RoomID: r.ID, At: r.CreatedAt})
	return &r, nil
}

func (s *Store) FindIdentity(ctx context.Context, roomID string, owner model.IdentityOwner) (*model.AnonymousIdentity, error) {
	if err := s.enter(ctx, OpFindIdentity, roomID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.identityBy[roomID+"|"+owner.Key()]
	if !ok {
		return nil, errs.NewError(errs.ErrRecordNotFound)
	}
	a := s.identities[id]
	return &a, nil
}

func (s *Store) InsertIdentity(ctx context.Context, in model.AnonymousIdentity) (*model.AnonymousIdentity, error) {
	if err := s.enter(ctx, OpInsertIdentity, in.RoomID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[in.RoomID]; !ok {
		return nil, errs.NewError(errs.ErrRoomNotFound)
	}

	key := in.RoomID + "|" + in.OwnerKey()
	if _, exists := s.identityBy[key]; exists {
		return nil, errs.NewError(errs.ErrDuplicate)
	}

	if in.ID == "" {
		in.ID = randx.NewID()
	}
	in.CreatedAt = s.now()
	s.identities[in.ID] = in
	s.identityBy[key] = in.ID
	return &in, nil
}

func (s *Store) ListMessages(ctx context.Context, roomID string) ([]backend.MessageRow, error) {
	if err := s.enter(ctx, OpListMessages, roomID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.rooms[roomID]; !ok {
		return nil, errs.NewError(errs.ErrRoomNotFound)
	}

	stored := make([]storedMessage, 0)
	for _, m := range s.messages {
		if m.RoomID == roomID {
			stored = append(stored, m)
		}
	}
	sort.Slice(stored, func(i, j int) bool {
		if stored[i].CreatedAt.Equal(stored[j].CreatedAt) {
			return stored[i].seq < stored[j].seq
		}
		return stored[i].CreatedAt.Before(stored[j].CreatedAt)
	})

	rows := make([]backend.MessageRow, 0, len(stored))
	for _, m := range stored {
		rows = append(rows, s.rowLocked(m.Message))
	}
	return rows, nil
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (*backend.MessageRow, error) {
	if err := s.enter(ctx, OpGetMessage, messageID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[messageID]
	if !ok {
		return nil, errs.NewError(errs.ErrMessageNotFound)
	}
	row := s.rowLocked(m.Message)
	return &row, nil
}

func (s *Store) InsertMessage(ctx context.Context, in model.NewMessage) (*backend.MessageRow, error) {
	if err := s.enter(ctx, OpInsertMessage, in.RoomID); err != nil {
		return nil, err
	}

	s.mu.Lock()

	if err := s.checkInsertLocked(in); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	s.seq++
	m := model.Message{
		ID:         randx.NewID(),
		RoomID:     in.RoomID,
		Content:    in.Content,
		Kind:       in.Kind,
		UserID:     in.UserID,
		IdentityID: in.IdentityID,
		ReplyToID:  in.ReplyToID,
		CreatedAt:  s.now(),
	}
	s.messages[m.ID] = storedMessage{Message: m, seq: s.seq}

	room := s.rooms[in.RoomID]
	activity := m.CreatedAt
	room.LastMessageID = m.ID
	room.LastActivityAt = &activity
	s.rooms[room.ID] = room

	row := s.rowLocked(m)
	s.mu.Unlock()

	s.feed.Publish(backend.Change{Table: backend.TableMessages, Event: backend.EventInsert, RowID: m.ID, RoomID: m.RoomID, At: m.CreatedAt})
	s.feed.Publish(backend.Change{Table: backend.TableRooms, Event: backend.EventUpdate, RowID: room.ID, RoomID: room.ID, At: m.CreatedAt})
	return &row, nil
}

// checkInsertLocked mirrors the database constraints and triggers on messages.
func (s *Store) checkInsertLocked(in model.NewMessage) error {
	room, ok := s.rooms[in.RoomID]
	if !ok {
		return errs.NewError(errs.ErrRoomNotFound)
	}

	if (in.UserID == "") == (in.IdentityID == "") {
		return errs.NewError(errs.ErrInvalidParams)
	}

	if in.IdentityID != "" {
		identity, ok := s.identities[in.IdentityID]
		if !ok || identity.RoomID != in.RoomID {
			return errs.NewError(errs.ErrPermissionDenied)
		}
	}

	if in.UserID != "" {
		if room.IsAnonymous {
			return errs.NewError(errs.ErrPermissionDenied)
		}
		p, ok := s.profiles[in.UserID]
		if !ok || !p.IsComplete() {
			return errs.NewError(errs.ErrProfileRequired)
		}
	}

	if in.ReplyToID != "" {
		target, ok := s.messages[in.ReplyToID]
		if !ok {
			return errs.NewError(errs.ErrMessageNotFound)
		}
		if target.RoomID != in.RoomID {
			return errs.NewError(errs.ErrReplyOutsideRoom)
		}
	}

	return nil
}

func (s *Store) UpdateMessageContent(ctx context.Context, messageID, content string, editedAt time.Time) (*backend.MessageRow, error) {
	if err := s.enter(ctx, OpUpdateMessage, messageID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	m, ok := s.messages[messageID]
	if !ok {
		s.mu.Unlock()
		return nil, errs.NewError(errs.ErrMessageNotFound)
	}

	edited := editedAt.UTC()
	m.Content = content
	m.EditedAt = &edited
	s.messages[messageID] = m
	row := s.rowLocked(m.Message)
	s.mu.Unlock()

	s.feed.Publish(backend.Change{Table: backend.TableMessages, Event: backend.EventUpdate, RowID: m.ID, RoomID: m.RoomID, At: edited})
	return &row, nil
}

func (s *Store) DeleteMessage(ctx context.Context, messageID string) error {
	if err := s.enter(ctx, OpDeleteMessage, messageID); err != nil {
		return err
	}

	s.mu.Lock()
	m, ok := s.messages[messageID]
	if !ok {
		s.mu.Unlock()
		return errs.NewError(errs.ErrMessageNotFound)
	}
	delete(s.messages, messageID)

	// Replies keep existing without their target, like ON DELETE SET NULL.
	for id, other := range s.messages {
		if other.ReplyToID == messageID {
			other.ReplyToID = ""
			s.messages[id] = other
		}
	}

	roomChanged := false
	if room := s.rooms[m.RoomID]; room.LastMessageID == messageID {
		room.LastMessageID = ""
		s.rooms[room.ID] = room
		roomChanged = true
	}
	at := s.now()
	s.mu.Unlock()

	s.feed.Publish(backend.Change{Table: backend.TableMessages, Event: backend.EventDelete, RowID: messageID, RoomID: m.RoomID, At: at})
	if roomChanged {
		s.feed.Publish(backend.Change{Table: backend.TableRooms, Event: backend.EventUpdate, RowID: m.RoomID, RoomID: m.RoomID, At: at})
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*user.Profile, error) {
	if err := s.enter(ctx, OpGetProfile, userID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, errs.NewError(errs.ErrRecordNotFound)
	}
	return &p, nil
}

// rowLocked joins author and reply rows. Caller holds s.mu.
func (s *Store) rowLocked(m model.Message) backend.MessageRow {
	row := backend.MessageRow{Message: m}
	row.Profile, row.Identity = s.authorLocked(m.UserID, m.IdentityID)

	if m.ReplyToID != "" {
		if target, ok := s.messages[m.ReplyToID]; ok {
			reply := &backend.ReplyRow{ID: target.ID, Content: target.Content}
			reply.Profile, reply.Identity = s.authorLocked(target.UserID, target.IdentityID)
			row.ReplyTo = reply
		}
	}
	return row
}

// authorLocked returns the sender's profile and identity. The identity's
// owner fields are left empty. Caller holds s.mu.
func (s *Store) authorLocked(userID, identityID string) (*user.Profile, *model.AnonymousIdentity) {
	var profile *user.Profile
	var identity *model.AnonymousIdentity

	if userID != "" {
		if p, ok := s.profiles[userID]; ok {
			profile = &p
		}
	}
	if identityID != "" {
		if a, ok := s.identities[identityID]; ok {
			a.SessionToken, a.UserID = "", ""
			identity = &a
		}
	}
	return profile, identity
}

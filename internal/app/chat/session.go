package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"chatsync/internal/app/backend"
	"chatsync/internal/app/model"
	"chatsync/internal/app/user"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
)

// DefaultEventBuffer is the capacity of the Session event channel.
const DefaultEventBuffer = 64

// EventKind tags a Session event.
type EventKind string

const (
	EventRoomsChanged    EventKind = "rooms_changed"
	EventMessagesLoaded  EventKind = "messages_loaded"
	EventTypingChanged   EventKind = "typing_changed"
	EventPresenceChanged EventKind = "presence_changed"
	EventError           EventKind = "error"
)

// Event is something the UI should react to. Only the fields of its kind are set.
type Event struct {
	Kind     EventKind
	RoomID   string
	Rooms    []model.Room
	Messages []model.Message
	Typists  []Typist
	Present  []Presence
	Err      error
}

// Deps are the collaborators of a Session.
type Deps struct {
	Store   backend.Store
	Changes backend.ChangeFeed
	Bus     backend.Broadcaster
	Caller  backend.Caller
	State   *State
}

// Config tunes a Session. Zero values use the package defaults.
type Config struct {
	IdentityResolveTimeout time.Duration
	TypingTimeout          time.Duration
	TypingInterval         time.Duration
	MessageCacheRooms      int
	EventBuffer            int
}

// Session wires the directory, resolver, message store, synchronizer and UI
// state into the select-room, load, send and sync flow.
type Session struct {
	state     *State
	caller    backend.Caller
	directory *Directory
	resolver  *Resolver
	messages  *MessageStore
	sync      *Synchronizer
	cache     *MessageCache

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu          sync.Mutex
	room        *model.Room
	scope       *RoomScope
	roomsSub    backend.Subscription
	cancelFetch context.CancelFunc
	displayed   []model.Message
	closed      bool

	events chan Event
	logger zerolog.Logger
}

// NewSession constructs a Session. Start must be called before use.
func NewSession(deps Deps, cfg Config) (*Session, error) {
	if deps.Store == nil || deps.Changes == nil || deps.Bus == nil || deps.State == nil {
		return nil, errs.NewError(errs.ErrInvalidParams)
	}
	if deps.Caller == nil {
		deps.Caller = user.Anonymous{}
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}

	cache, err := NewMessageCache(cfg.MessageCacheRooms)
	if err != nil {
		return nil, err
	}
	rooms := &RoomCache{}

	directory := NewDirectory(deps.Store, rooms)
	resolver := NewResolver(deps.Store, cfg.IdentityResolveTimeout)

	baseCtx, cancel := context.WithCancel(context.Background())

	return &Session{
		state:      deps.State,
		caller:     deps.Caller,
		directory:  directory,
		resolver:   resolver,
		messages:   NewMessageStore(deps.Store, directory, resolver),
		sync:       NewSynchronizer(deps.Changes, deps.Bus, rooms, cache, cfg.TypingTimeout, cfg.TypingInterval),
		cache:      cache,
		baseCtx:    baseCtx,
		cancelBase: cancel,
		events:     make(chan Event, cfg.EventBuffer),
		logger:     logx.Component("chat_session"),
	}, nil
}

// Events returns the event stream. It is closed by Close.
func (s *Session) Events() <-chan Event {
	return s.events
}

// emit delivers e without blocking; a full buffer drops the event.
func (s *Session) emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.events <- e:
	default:
		s.logger.Warn().Str("kind", string(e.Kind)).Str("room_id", e.RoomID).Msg("Event buffer full, dropping event.")
	}
}

// Start loads the caller's profile and subscribes to the room list.
func (s *Session) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		profile, err := s.caller.CurrentUser(gctx)
		if err != nil {
			return err
		}
		s.state.SetProfile(profile)
		return nil
	})

	g.Go(func() error {
		// The subscription outlives Start, so it is bound to the session context.
		sub, err := s.sync.WatchRooms(s.baseCtx, func(backend.Change) {
			go s.refreshRooms()
		})
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.roomsSub = sub
		s.mu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil {
		s.mu.Lock()
		sub := s.roomsSub
		s.roomsSub = nil
		s.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		return err
	}
	return nil
}

func (s *Session) refreshRooms() {
	rooms, err := s.directory.ListRooms(s.baseCtx)
	if err != nil {
		if s.baseCtx.Err() == nil {
			s.emit(Event{Kind: EventError, Err: err})
		}
		return
	}
	s.emit(Event{Kind: EventRoomsChanged, Rooms: rooms})
}

// State returns the UI state container.
func (s *Session) State() *State {
	return s.state
}

// Rooms lists rooms newest first.
func (s *Session) Rooms(ctx context.Context) ([]model.Room, error) {
	return s.directory.ListRooms(ctx)
}

// CreateRoom creates a room owned by the signed-in member, if any.
func (s *Session) CreateRoom(ctx context.Context, name, description string, isAnonymous bool) (*model.Room, error) {
	var creator string
	if p := s.state.Profile(); p != nil {
		creator = p.ID
	}
	return s.directory.CreateRoom(ctx, CreateRoomInput{
		Name:        name,
		Description: description,
		IsAnonymous: isAnonymous,
		CreatorID:   creator,
	})
}

func (s *Session) author() Author {
	snap := s.state.Snapshot()
	return Author{
		Profile:         snap.Profile,
		SessionToken:    snap.SessionToken,
		PreferAnonymous: snap.AnonymousMode,
	}
}

// member picks the presence identity for room. Signed-in members with a
// complete profile appear as themselves in identity rooms; everyone else
// appears as their room identity, which is created on first entry.
func (s *Session) member(ctx context.Context, room *model.Room) (backend.Member, error) {
	a := s.author()
	if !room.IsAnonymous && !a.PreferAnonymous && a.Profile.IsComplete() {
		return backend.Member{Key: backend.UserMemberKey(a.Profile.ID), DisplayName: a.Profile.Name()}, nil
	}

	identity, err := s.resolver.GetOrCreate(ctx, room.ID, a.SessionToken, a.userID())
	if err != nil {
		return backend.Member{}, err
	}
	return backend.Member{Key: identity.ID, DisplayName: identity.DisplayName, Color: identity.Color}, nil
}

// SelectRoom makes roomID the active room: it resolves the room, ensures the
// caller's identity, swaps the realtime scope and starts loading messages.
// A cached list is shown at once and replaced when the fetch completes. If
// the new scope cannot be opened, no room is active afterwards.
func (s *Session) SelectRoom(ctx context.Context, roomID string) (*model.Room, error) {
	room, err := s.directory.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	self, err := s.member(ctx, room)
	if err != nil {
		return nil, err
	}

	s.leave()
	scope, err := s.sync.Enter(ctx, room.ID, self, RoomHooks{
		OnMessagesChanged: s.onMessagesChanged,
		OnTyping: func(id string, typists []Typist) {
			s.emit(Event{Kind: EventTypingChanged, RoomID: id, Typists: typists})
		},
		OnPresence: func(id string, present []Presence) {
			s.emit(Event{Kind: EventPresenceChanged, RoomID: id, Present: present})
		},
	})
	if err != nil {
		s.state.SelectRoom("")
		return nil, err
	}

	s.state.SelectRoom(room.ID)
	s.mu.Lock()
	s.room = room
	s.scope = scope
	s.mu.Unlock()

	if cached, ok := s.cache.Get(room.ID); ok {
		s.display(room.ID, cached)
	}
	s.refetch(room.ID)

	s.logger.Info().Str("room_id", room.ID).Bool("is_anonymous", room.IsAnonymous).Msg("Room selected.")
	return room, nil
}

// ActiveRoom returns the selected room, or nil.
func (s *Session) ActiveRoom() *model.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) isActive(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room != nil && s.room.ID == roomID && !s.closed
}

func (s *Session) onMessagesChanged(roomID string) {
	if s.isActive(roomID) {
		s.refetch(roomID)
	}
}

// refetch starts a background load of roomID, cancelling any load in flight.
func (s *Session) refetch(roomID string) {
	ctx, cancel := context.WithCancel(s.baseCtx)

	s.mu.Lock()
	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	s.cancelFetch = cancel
	s.mu.Unlock()

	gen := s.cache.Generation(roomID)
	go func() {
		defer cancel()
		_ = s.load(ctx, roomID, gen)
	}()
}

// load fetches roomID and publishes the result only if the fetch was not
// cancelled, the room is still active and no invalidation happened meanwhile.
func (s *Session) load(ctx context.Context, roomID string, gen uint64) error {
	msgs, err := s.messages.ListMessages(ctx, roomID)

	if ctx.Err() != nil || !s.isActive(roomID) {
		s.logger.Debug().Str("room_id", roomID).Msg("Discarding stale message fetch.")
		return context.Canceled
	}

	if err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("Message fetch failed.")
		s.emit(Event{Kind: EventError, RoomID: roomID, Err: err})
		return err
	}

	if !s.cache.Fill(roomID, gen, msgs) {
		s.logger.Debug().Str("room_id", roomID).Msg("Messages changed during fetch; waiting for the next one.")
		return nil
	}

	s.display(roomID, msgs)
	return nil
}

func (s *Session) display(roomID string, msgs []model.Message) {
	s.mu.Lock()
	if s.room == nil || s.room.ID != roomID {
		s.mu.Unlock()
		return
	}
	s.displayed = cloneMessages(msgs)
	s.mu.Unlock()

	s.emit(Event{Kind: EventMessagesLoaded, RoomID: roomID, Messages: msgs})
}

// Reload invalidates the active room's cache and fetches it synchronously.
func (s *Session) Reload(ctx context.Context) error {
	room := s.ActiveRoom()
	if room == nil {
		return errs.NewError(errs.ErrRoomNotFound)
	}

	gen := s.cache.Invalidate(room.ID)

	s.mu.Lock()
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	s.mu.Unlock()

	return s.load(ctx, room.ID, gen)
}

// Messages returns the list currently displayed for the active room.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMessages(s.displayed)
}

// SetDraft updates the composer text.
func (s *Session) SetDraft(text string) {
	s.state.SetDraft(text)
}

// ReplyTo sets the reply target. An empty ID clears it.
func (s *Session) ReplyTo(messageID string) {
	s.state.SetReplyTo(messageID)
}

// Send posts the draft to the active room. On success the draft and reply
// target are cleared; on failure they are kept.
func (s *Session) Send(ctx context.Context, kind model.MessageKind) (*model.Message, error) {
	room := s.ActiveRoom()
	if room == nil {
		return nil, errs.NewError(errs.ErrRoomNotFound)
	}

	snap := s.state.Snapshot()
	msg, err := s.messages.Send(ctx, SendInput{
		RoomID:    room.ID,
		Content:   snap.Draft,
		Kind:      kind,
		ReplyToID: snap.ReplyToID,
	}, s.author())
	if err != nil {
		return nil, err
	}

	s.state.CommitSend()
	if scope := s.currentScope(); scope != nil {
		_ = scope.StopTyping(ctx)
	}
	s.invalidate(room.ID)
	return msg, nil
}

// Edit replaces the content of one of the caller's messages.
func (s *Session) Edit(ctx context.Context, messageID, content string) (*model.Message, error) {
	msg, err := s.messages.Edit(ctx, messageID, content, s.author())
	if err != nil {
		return nil, err
	}
	s.invalidate(msg.RoomID)
	return msg, nil
}

// Delete removes one of the caller's messages after confirm approves.
func (s *Session) Delete(ctx context.Context, messageID string, confirm Confirmer) error {
	roomID, err := s.messages.Delete(ctx, messageID, s.author(), confirm)
	if err != nil {
		return err
	}
	s.invalidate(roomID)
	return nil
}

// invalidate drops roomID's cached list and refetches it when active.
func (s *Session) invalidate(roomID string) {
	s.cache.Invalidate(roomID)
	if s.isActive(roomID) {
		s.refetch(roomID)
	}
}

func (s *Session) currentScope() *RoomScope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// Typing announces that the caller is composing in the active room.
func (s *Session) Typing(ctx context.Context) error {
	scope := s.currentScope()
	if scope == nil {
		return nil
	}
	s.state.SetTyping(true)
	return scope.StartTyping(ctx)
}

// StopTyping announces that the caller stopped composing.
func (s *Session) StopTyping(ctx context.Context) error {
	scope := s.currentScope()
	if scope == nil {
		return nil
	}
	s.state.SetTyping(false)
	return scope.StopTyping(ctx)
}

// Typists returns who else is typing in the active room.
func (s *Session) Typists() []Typist {
	if scope := s.currentScope(); scope != nil {
		return scope.Typists()
	}
	return nil
}

// Present returns who is in the active room.
func (s *Session) Present() []Presence {
	if scope := s.currentScope(); scope != nil {
		return scope.Present()
	}
	return nil
}

// LeaveRoom releases the active room.
func (s *Session) LeaveRoom() {
	s.leave()
	s.state.SelectRoom("")
}

func (s *Session) leave() {
	s.mu.Lock()
	scope := s.scope
	s.scope = nil
	s.room = nil
	s.displayed = nil
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	s.mu.Unlock()

	if scope != nil {
		scope.Close()
	}
}

// Close releases every subscription and closes the event stream.
func (s *Session) Close() {
	s.leave()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.roomsSub
	s.roomsSub = nil
	close(s.events)
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	s.cancelBase()
}

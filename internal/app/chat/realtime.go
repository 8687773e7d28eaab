package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"chatsync/internal/app/backend"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
)

const (
	// DefaultTypingInterval is the minimum gap between two typing publishes.
	DefaultTypingInterval = 2 * time.Second

	stopTypingTimeout = 2 * time.Second
)

// RoomHooks receive the live updates of an entered room. Any of them may be nil.
// They run on subscription goroutines and must not block for long.
type RoomHooks struct {
	OnMessagesChanged func(roomID string)
	OnTyping          func(roomID string, typists []Typist)
	OnPresence        func(roomID string, present []Presence)
}

// Synchronizer turns change notifications into cache invalidation and runs the
// per-room typing and presence channel.
type Synchronizer struct {
	changes  backend.ChangeFeed
	bus      backend.Broadcaster
	rooms    *RoomCache
	messages *MessageCache

	typingTimeout  time.Duration
	typingInterval time.Duration

	mu      sync.Mutex
	current *RoomScope

	logger zerolog.Logger
}

// NewSynchronizer constructs a Synchronizer over the given caches.
func NewSynchronizer(changes backend.ChangeFeed, bus backend.Broadcaster, rooms *RoomCache, messages *MessageCache, typingTimeout, typingInterval time.Duration) *Synchronizer {
	if typingTimeout <= 0 {
		typingTimeout = DefaultTypingTimeout
	}
	if typingInterval <= 0 {
		typingInterval = DefaultTypingInterval
	}
	return &Synchronizer{
		changes:        changes,
		bus:            bus,
		rooms:          rooms,
		messages:       messages,
		typingTimeout:  typingTimeout,
		typingInterval: typingInterval,
		logger:         logx.Component("realtime"),
	}
}

// WatchRooms subscribes to every room change. Each change invalidates the
// room-list cache before onChange runs.
func (s *Synchronizer) WatchRooms(ctx context.Context, onChange func(backend.Change)) (backend.Subscription, error) {
	sub, err := s.changes.Subscribe(ctx, backend.Filter{Table: backend.TableRooms, Event: backend.EventAll}, func(c backend.Change) {
		s.rooms.Invalidate()
		if onChange != nil {
			onChange(c)
		}
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Msg("Room list subscription started.")
	return sub, nil
}

// Enter subscribes to roomID's message changes and joins its broadcast topic
// as self. The previously entered room, if any, is closed first.
func (s *Synchronizer) Enter(ctx context.Context, roomID string, self backend.Member, hooks RoomHooks) (*RoomScope, error) {
	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	scope := &RoomScope{
		sync:     s,
		roomID:   roomID,
		self:     self,
		hooks:    hooks,
		presence: NewPresenceSet(),
		limiter:  rate.NewLimiter(rate.Every(s.typingInterval), 1),
		logger:   s.logger.With().Str("room_id", roomID).Logger(),
	}
	scope.typing = NewTypingTracker(self.Key, s.typingTimeout, func(typists []Typist) {
		if !scope.isClosed() && hooks.OnTyping != nil {
			hooks.OnTyping(roomID, typists)
		}
	})

	sub, err := s.changes.Subscribe(ctx, backend.Filter{Table: backend.TableMessages, Event: backend.EventAll, RoomID: roomID}, scope.handleChange)
	if err != nil {
		scope.typing.Close()
		return nil, err
	}
	scope.sub = sub

	channel, err := s.bus.Join(ctx, backend.RoomTopic(roomID), self, scope.handleBroadcast)
	if err != nil {
		// Typing and presence are optional; messages still sync without them.
		scope.logger.Warn().Err(err).Msg("Broadcast join failed, continuing without typing and presence.")
	}

	scope.mu.Lock()
	scope.channel = channel
	scope.mu.Unlock()

	s.mu.Lock()
	s.current = scope
	s.mu.Unlock()

	scope.logger.Debug().Str("member_key", self.Key).Msg("Entered room.")
	return scope, nil
}

// Current returns the entered room scope, or nil.
func (s *Synchronizer) Current() *RoomScope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Synchronizer) release(scope *RoomScope) {
	s.mu.Lock()
	if s.current == scope {
		s.current = nil
	}
	s.mu.Unlock()
}

// RoomScope holds every live resource of one entered room. Close releases
// them all and is safe to call more than once.
type RoomScope struct {
	sync   *Synchronizer
	roomID string
	self   backend.Member
	hooks  RoomHooks

	sub      backend.Subscription
	typing   *TypingTracker
	presence *PresenceSet
	limiter  *rate.Limiter

	mu       sync.Mutex
	channel  backend.Channel
	isTyping bool
	closed   bool

	logger zerolog.Logger
}

// RoomID returns the scoped room.
func (r *RoomScope) RoomID() string {
	return r.roomID
}

// Self returns the member this scope joined as.
func (r *RoomScope) Self() backend.Member {
	return r.self
}

func (r *RoomScope) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *RoomScope) handleChange(c backend.Change) {
	if r.isClosed() {
		return
	}

	r.sync.messages.Invalidate(r.roomID)
	r.logger.Debug().Str("event", string(c.Event)).Str("message_id", c.RowID).Msg("Message change received.")

	if r.hooks.OnMessagesChanged != nil {
		r.hooks.OnMessagesChanged(r.roomID)
	}
}

func (r *RoomScope) handleBroadcast(e backend.BroadcastEvent) {
	if r.isClosed() {
		return
	}

	switch e.Kind {
	case backend.BroadcastTyping, backend.BroadcastStopTyping:
		r.typing.Apply(e)

	case backend.PresenceJoin, backend.PresenceLeave, backend.PresenceSync:
		if e.Kind == backend.PresenceLeave {
			r.typing.Apply(e)
		}
		if r.presence.Apply(e) && r.hooks.OnPresence != nil {
			r.hooks.OnPresence(r.roomID, r.presence.Members())
		}
	}
}

// StartTyping announces that the local member is composing. Calls inside the
// throttle interval are dropped, except the first after StopTyping.
func (r *RoomScope) StartTyping(ctx context.Context) error {
	r.mu.Lock()
	if r.closed || r.channel == nil {
		r.mu.Unlock()
		return nil
	}
	if !r.limiter.Allow() {
		r.mu.Unlock()
		return nil
	}
	r.isTyping = true
	channel := r.channel
	r.mu.Unlock()

	return r.publish(ctx, channel, backend.BroadcastTyping)
}

// StopTyping announces that the local member stopped composing.
func (r *RoomScope) StopTyping(ctx context.Context) error {
	r.mu.Lock()
	if r.closed || r.channel == nil || !r.isTyping {
		r.mu.Unlock()
		return nil
	}
	r.isTyping = false
	r.limiter = rate.NewLimiter(rate.Every(r.sync.typingInterval), 1)
	channel := r.channel
	r.mu.Unlock()

	return r.publish(ctx, channel, backend.BroadcastStopTyping)
}

func (r *RoomScope) publish(ctx context.Context, channel backend.Channel, kind backend.BroadcastKind) error {
	if err := channel.Publish(ctx, kind); err != nil {
		r.logger.Warn().Err(err).Str("kind", string(kind)).Msg("Broadcast publish failed.")
		return errs.NewError(errs.ErrBackendUnavailable).Wrap(err)
	}
	return nil
}

// Typists returns who else is typing.
func (r *RoomScope) Typists() []Typist {
	return r.typing.Typists()
}

// Present returns who is in the room, the local member included.
func (r *RoomScope) Present() []Presence {
	return r.presence.Members()
}

// Close stops typing, leaves the topic and unsubscribes.
func (r *RoomScope) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	channel := r.channel
	wasTyping := r.isTyping
	r.isTyping = false
	r.mu.Unlock()

	if channel != nil {
		if wasTyping {
			ctx, cancel := context.WithTimeout(context.Background(), stopTypingTimeout)
			_ = channel.Publish(ctx, backend.BroadcastStopTyping)
			cancel()
		}
		if err := channel.Leave(); err != nil {
			r.logger.Warn().Err(err).Msg("Leaving broadcast topic failed.")
		}
	}

	r.sub.Unsubscribe()
	r.typing.Close()
	r.sync.release(r)

	r.logger.Debug().Msg("Left room.")
}

package relay

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatsync/internal/app/backend"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
)

const broadcastChannelBuffer = 1024

// Topic is the hub of one broadcast topic. All membership changes and fan-out
// happen on the Run goroutine.
type Topic struct {
	// Name is the topic name, e.g. "room:<uuid>".
	Name string

	// MaxMembers caps distinct presence keys; zero means unlimited.
	MaxMembers int

	// clients holds the connected members keyed by presence key.
	clients map[string]*Client

	broadcast  chan backend.BroadcastEvent
	register   chan *Client
	unregister chan *Client

	// cleanup notifies the Manager as Run returns, before done is closed.
	cleanup chan<- *Topic

	inactivity    time.Duration
	shutdownTimer *time.Timer

	jwtSecret string

	stopChan chan struct{}
	stopOnce sync.Once

	// done is closed when Run has returned.
	done chan struct{}

	// mu protects clients for readers outside Run.
	mu sync.RWMutex

	logger zerolog.Logger
}

func newTopic(name string, opts Options, cleanup chan<- *Topic) *Topic {
	return &Topic{
		Name:          name,
		MaxMembers:    opts.MaxMembers,
		clients:       make(map[string]*Client),
		broadcast:     make(chan backend.BroadcastEvent, broadcastChannelBuffer),
		register:      make(chan *Client),
		unregister:    make(chan *Client, 16),
		cleanup:       cleanup,
		inactivity:    opts.InactivityTimeout,
		shutdownTimer: time.NewTimer(opts.InactivityTimeout),
		jwtSecret:     opts.JWTSecret,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
		logger:        logx.Component("relay_topic").With().Str("topic", name).Logger(),
	}
}

// Stop terminates the Run loop. Connected members are disconnected.
func (t *Topic) Stop() {
	t.stopOnce.Do(func() {
		t.logger.Info().Msg("Received stop signal. Stopping topic.")
		close(t.stopChan)
	})
}

// Done is closed once the topic has shut down.
func (t *Topic) Done() <-chan struct{} {
	return t.done
}

// Members returns the current presence list sorted by key.
func (t *Topic) Members() []backend.Member {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.membersLocked()
}

func (t *Topic) memberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

func (t *Topic) membersLocked() []backend.Member {
	out := make([]backend.Member, 0, len(t.clients))
	for _, c := range t.clients {
		out = append(out, c.member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// add hands c to the Run loop. It reports false when the topic has
// already shut down and the caller should retry on a fresh topic.
func (t *Topic) add(c *Client) bool {
	select {
	case t.register <- c:
		return true
	case <-t.done:
		return false
	}
}

func (t *Topic) remove(c *Client) {
	select {
	case t.unregister <- c:
	case <-t.done:
	}
}

func (t *Topic) publish(e backend.BroadcastEvent) {
	select {
	case t.broadcast <- e:
	case <-t.done:
	default:
		t.logger.Warn().Str("member_key", e.From.Key).Msg("Broadcast channel full, dropping event.")
	}
}

// Run is the topic's event loop. It returns on Stop or after the topic stayed
// empty for the inactivity timeout.
func (t *Topic) Run() {
	defer t.shutdown()

	for {
		select {
		case c := <-t.register:
			t.handleRegister(c)

		case c := <-t.unregister:
			t.handleUnregister(c)

		case e := <-t.broadcast:
			t.fanout(eventFrame(e.Kind, t.Name, e.From, nil), e.From.Key)

		case <-t.shutdownTimer.C:
			if t.memberCount() > 0 {
				continue
			}
			t.logger.Info().Dur("timeout", t.inactivity).Msg("Topic inactivity timeout reached. Shutting down.")
			return

		case <-t.stopChan:
			t.logger.Info().Msg("Topic forced stop initiated.")
			return
		}
	}
}

func (t *Topic) shutdown() {
	t.shutdownTimer.Stop()

	t.mu.Lock()
	for key, c := range t.clients {
		c.closeSend(0, "")
		delete(t.clients, key)
	}
	t.mu.Unlock()

	t.cleanup <- t
	close(t.done)
}

func (t *Topic) handleRegister(c *Client) {
	t.mu.Lock()

	key := c.member.Key
	existing, replacing := t.clients[key]

	if !replacing && t.MaxMembers > 0 && len(t.clients) >= t.MaxMembers {
		t.mu.Unlock()
		t.logger.Warn().Int("max_members", t.MaxMembers).Str("member_key", key).Msg("Topic is full. New member rejected.")
		c.SendError(errs.NewError(errs.ErrTopicFull))
		c.closeSend(CloseTopicFull, "channel is full")
		return
	}

	if replacing {
		t.logger.Warn().Str("member_key", key).Msg("Presence key already connected. Closing old connection for replacement.")
		existing.Kick("Session replaced by new connection. Check other tabs.")
	}

	if t.shutdownTimer.Stop() {
		select {
		case <-t.shutdownTimer.C:
		default:
		}
	}

	t.clients[key] = c
	members := t.membersLocked()
	t.mu.Unlock()

	t.logger.Info().Str("member_key", key).Int("total_members", len(members)).Msg("Member joined topic.")

	if err := c.sendFrame(eventFrame(backend.PresenceSync, t.Name, c.member, members)); err != nil {
		t.handleUnregister(c)
		return
	}

	// A replacement keeps the presence list unchanged for everyone else.
	if !replacing {
		t.fanout(eventFrame(backend.PresenceJoin, t.Name, c.member, nil), key)
	}
}

func (t *Topic) handleUnregister(c *Client) {
	t.mu.Lock()

	key := c.member.Key
	current, ok := t.clients[key]
	switch {
	case ok && current == c:
		delete(t.clients, key)
		c.closeSend(0, "")
		t.logger.Info().Str("member_key", key).Int("total_members", len(t.clients)).Msg("Member left topic.")
	case ok:
		t.mu.Unlock()
		t.logger.Debug().Str("member_key", key).Msg("Ignoring unregister for replaced connection.")
		return
	default:
		t.mu.Unlock()
		return
	}

	empty := len(t.clients) == 0
	t.mu.Unlock()

	if empty {
		t.logger.Info().Dur("timeout", t.inactivity).Msg("Topic is empty. Starting inactivity timer.")
		t.shutdownTimer.Reset(t.inactivity)
		return
	}

	t.fanout(eventFrame(backend.PresenceLeave, t.Name, c.member, nil), key)
}

// fanout sends f to every member except the one keyed exclude. Members whose
// queue is full are disconnected.
func (t *Topic) fanout(f Frame, exclude string) {
	payload, err := json.Marshal(f)
	if err != nil {
		t.logger.Error().Err(err).Msg("Error marshaling frame for broadcast.")
		return
	}

	var slow []*Client

	t.mu.RLock()
	for key, c := range t.clients {
		if key == exclude {
			continue
		}
		if !c.enqueue(payload) {
			slow = append(slow, c)
		}
	}
	t.mu.RUnlock()

	for _, c := range slow {
		t.logger.Warn().Str("member_key", c.member.Key).Msg("Member send queue full, disconnecting.")
		t.handleUnregister(c)
	}
}

/*
Package membus is an in-process broadcast bus with presence tracking.

Every member of a topic receives every published event, the publisher included;
filtering one's own events is the receiver's job. Presence is reported as a
PresenceSync to the joiner followed by PresenceJoin/PresenceLeave to everyone else.
*/
package membus

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatsync/internal/app/backend"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
)

const memberQueueSize = 128

// Bus is the in-process broadcaster.
type Bus struct {
	mu     sync.Mutex
	nextID int64
	topics map[string]map[int64]*member
	logger zerolog.Logger
}

var _ backend.Broadcaster = (*Bus)(nil)

type member struct {
	bus     *Bus
	id      int64
	topic   string
	self    backend.Member
	handler backend.BroadcastHandler
	queue   chan backend.BroadcastEvent
	done    chan struct{}
	once    sync.Once
}

// New constructs an empty bus.
func New() *Bus {
	return &Bus{
		topics: make(map[string]map[int64]*member),
		logger: logx.Component("membus"),
	}
}

// Join adds self to topic and starts delivering events to handler.
func (b *Bus) Join(_ context.Context, topic string, self backend.Member, handler backend.BroadcastHandler) (backend.Channel, error) {
	if topic == "" || self.Key == "" {
		return nil, errs.NewError(errs.ErrTopicInvalid)
	}

	b.mu.Lock()
	b.nextID++
	m := &member{
		bus:     b,
		id:      b.nextID,
		topic:   topic,
		self:    self,
		handler: handler,
		queue:   make(chan backend.BroadcastEvent, memberQueueSize),
		done:    make(chan struct{}),
	}

	members := b.topics[topic]
	if members == nil {
		members = make(map[int64]*member)
		b.topics[topic] = members
	}
	members[m.id] = m

	now := time.Now()
	m.deliver(backend.BroadcastEvent{Kind: backend.PresenceSync, Topic: topic, From: self, Members: b.membersLocked(topic), At: now})
	for id, other := range members {
		if id != m.id {
			other.deliver(backend.BroadcastEvent{Kind: backend.PresenceJoin, Topic: topic, From: self, At: now})
		}
	}
	b.mu.Unlock()

	go m.run()

	b.logger.Debug().Str("topic", topic).Str("member_key", self.Key).Msg("Member joined topic.")
	return m, nil
}

// membersLocked returns the topic's members, unique by key and sorted. Caller holds b.mu.
func (b *Bus) membersLocked(topic string) []backend.Member {
	seen := make(map[string]backend.Member)
	for _, m := range b.topics[topic] {
		seen[m.self.Key] = m.self
	}

	out := make([]backend.Member, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// TopicSize returns the number of joined channels on topic.
func (b *Bus) TopicSize(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// deliver queues e without blocking. Caller holds b.mu.
func (m *member) deliver(e backend.BroadcastEvent) {
	select {
	case m.queue <- e:
	default:
		m.bus.logger.Warn().Str("topic", m.topic).Str("member_key", m.self.Key).Msg("Member queue full, dropping event.")
	}
}

func (m *member) run() {
	for {
		select {
		case <-m.done:
			return
		case e := <-m.queue:
			m.handler(e)
		}
	}
}

// Publish sends kind from this member to every member of the topic.
func (m *member) Publish(ctx context.Context, kind backend.BroadcastKind) error {
	if !kind.Publishable() {
		return errs.NewError(errs.ErrInvalidParams)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-m.done:
		return errs.NewError(errs.ErrBackendUnavailable)
	default:
	}

	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()

	e := backend.BroadcastEvent{Kind: kind, Topic: m.topic, From: m.self, At: time.Now()}
	for _, other := range m.bus.topics[m.topic] {
		other.deliver(e)
	}
	return nil
}

// Members returns the current presence list of the topic.
func (m *member) Members() []backend.Member {
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()
	return m.bus.membersLocked(m.topic)
}

// Leave removes the member and notifies the rest of the topic.
func (m *member) Leave() error {
	m.once.Do(func() {
		b := m.bus
		b.mu.Lock()
		members := b.topics[m.topic]
		delete(members, m.id)

		stillPresent := false
		for _, other := range members {
			if other.self.Key == m.self.Key {
				stillPresent = true
				break
			}
		}
		if !stillPresent {
			e := backend.BroadcastEvent{Kind: backend.PresenceLeave, Topic: m.topic, From: m.self, At: time.Now()}
			for _, other := range members {
				other.deliver(e)
			}
		}
		if len(members) == 0 {
			delete(b.topics, m.topic)
		}
		b.mu.Unlock()

		close(m.done)
		b.logger.Debug().Str("topic", m.topic).Str("member_key", m.self.Key).Msg("Member left topic.")
	})
	return nil
}

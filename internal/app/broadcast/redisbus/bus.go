/*
Package redisbus is a Broadcaster on Redis Pub/Sub, for clients that share a
Redis instance instead of a relay.

Events travel on one Pub/Sub channel per topic. Presence lives in one hash per
topic, one field per member key, refreshed by a heartbeat; entries that miss
their lease are ignored, so a crashed client drops out of the list on its own.
*/
package redisbus

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chatsync/internal/app/backend"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
)

const (
	DefaultPrefix      = "chatsync:"
	DefaultPresenceTTL = 45 * time.Second
	opTimeout          = 5 * time.Second
)

// Options configures a Bus.
type Options struct {
	// Prefix namespaces every Redis key and channel.
	Prefix string

	// PresenceTTL is the lease of a presence entry. Members refresh it every third of the TTL.
	PresenceTTL time.Duration
}

// Bus joins topics over a Redis client.
type Bus struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

var _ backend.Broadcaster = (*Bus)(nil)

// New returns a Bus using client. The client stays owned by the caller.
func New(client redis.UniversalClient, opts Options) *Bus {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.PresenceTTL <= 0 {
		opts.PresenceTTL = DefaultPresenceTTL
	}
	return &Bus{
		client: client,
		prefix: opts.Prefix,
		ttl:    opts.PresenceTTL,
		logger: logx.Component("redisbus"),
	}
}

func (b *Bus) channelKey(topic string) string  { return b.prefix + "topic:" + topic }
func (b *Bus) presenceKey(topic string) string { return b.prefix + "presence:" + topic }

// presenceEntry is the value stored per member in the presence hash.
type presenceEntry struct {
	Member backend.Member `json:"member"`
	SeenAt int64          `json:"seenAt"`
}

// Join subscribes to topic, records self in the presence hash and announces
// the join. ctx bounds these calls only.
func (b *Bus) Join(ctx context.Context, topic string, self backend.Member, handler backend.BroadcastHandler) (backend.Channel, error) {
	if topic == "" || self.Key == "" {
		return nil, errs.NewError(errs.ErrTopicInvalid)
	}

	ps := b.client.Subscribe(ctx, b.channelKey(topic))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, errs.NewError(errs.ErrBackendUnavailable).Wrap(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ch := &channel{
		bus:     b,
		topic:   topic,
		self:    self,
		handler: handler,
		ps:      ps,
		ctx:     runCtx,
		cancel:  cancel,
		members: make(map[string]backend.Member),
		logger:  b.logger.With().Str("topic", topic).Str("member_key", self.Key).Logger(),
	}

	if err := ch.touch(ctx); err != nil {
		ch.shutdown()
		return nil, err
	}

	members, err := ch.fetchMembers(ctx)
	if err != nil {
		ch.shutdown()
		return nil, err
	}

	if err := ch.announce(ctx, backend.PresenceJoin); err != nil {
		ch.shutdown()
		return nil, err
	}

	first := backend.BroadcastEvent{Kind: backend.PresenceSync, Topic: topic, From: self, Members: members, At: time.Now().UTC()}
	ch.apply(first)

	go ch.run(first)
	go ch.heartbeat()

	b.logger.Debug().Str("topic", topic).Str("member_key", self.Key).Msg("Joined redis topic.")
	return ch, nil
}

type channel struct {
	bus     *Bus
	topic   string
	self    backend.Member
	handler backend.BroadcastHandler
	ps      *redis.PubSub

	// ctx lives until Leave.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	members map[string]backend.Member

	leaveOnce sync.Once
	logger    zerolog.Logger
}

func (c *channel) run(first backend.BroadcastEvent) {
	c.handler(first)

	msgs := c.ps.Channel()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			var e backend.BroadcastEvent
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				c.logger.Warn().Err(err).Msg("Dropping undecodable event.")
				continue
			}
			if e.From.Key == c.self.Key {
				continue
			}

			c.apply(e)
			if c.ctx.Err() == nil {
				c.handler(e)
			}
		}
	}
}

func (c *channel) heartbeat() {
	ticker := time.NewTicker(c.bus.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, opTimeout)
			if err := c.touch(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to refresh presence lease.")
			}
			cancel()
		}
	}
}

// touch writes self into the presence hash and extends the hash's expiry.
func (c *channel) touch(ctx context.Context) error {
	value, err := json.Marshal(presenceEntry{Member: c.self, SeenAt: time.Now().UnixMilli()})
	if err != nil {
		return errs.NewError(errs.ErrUnknown, err)
	}

	key := c.bus.presenceKey(c.topic)
	_, err = c.bus.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, c.self.Key, value)
		pipe.Expire(ctx, key, 3*c.bus.ttl)
		return nil
	})
	if err != nil {
		return errs.NewError(errs.ErrBackendUnavailable).Wrap(err)
	}
	return nil
}

// fetchMembers reads the presence hash, skipping expired leases.
func (c *channel) fetchMembers(ctx context.Context) ([]backend.Member, error) {
	entries, err := c.bus.client.HGetAll(ctx, c.bus.presenceKey(c.topic)).Result()
	if err != nil {
		return nil, errs.NewError(errs.ErrBackendUnavailable).Wrap(err)
	}

	cutoff := time.Now().Add(-c.bus.ttl).UnixMilli()
	members := make([]backend.Member, 0, len(entries))
	for field, raw := range entries {
		var entry presenceEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			c.logger.Warn().Err(err).Str("field", field).Msg("Ignoring malformed presence entry.")
			continue
		}
		if entry.SeenAt < cutoff {
			continue
		}
		members = append(members, entry.Member)
	}

	sort.Slice(members, func(i, j int) bool { return members[i].Key < members[j].Key })
	return members, nil
}

func (c *channel) announce(ctx context.Context, kind backend.BroadcastKind) error {
	payload, err := json.Marshal(backend.BroadcastEvent{Kind: kind, Topic: c.topic, From: c.self, At: time.Now().UTC()})
	if err != nil {
		return errs.NewError(errs.ErrUnknown, err)
	}
	if err := c.bus.client.Publish(ctx, c.bus.channelKey(c.topic), payload).Err(); err != nil {
		return errs.NewError(errs.ErrBackendUnavailable).Wrap(err)
	}
	return nil
}

func (c *channel) apply(e backend.BroadcastEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Kind {
	case backend.PresenceSync:
		c.members = make(map[string]backend.Member, len(e.Members))
		for _, m := range e.Members {
			c.members[m.Key] = m
		}
	case backend.PresenceJoin:
		c.members[e.From.Key] = e.From
	case backend.PresenceLeave:
		delete(c.members, e.From.Key)
	}
}

// Publish sends kind to the other members of the topic.
func (c *channel) Publish(ctx context.Context, kind backend.BroadcastKind) error {
	if !kind.Publishable() {
		return errs.NewError(errs.ErrInvalidParams)
	}
	if c.ctx.Err() != nil {
		return errs.NewError(errs.ErrBackendUnavailable)
	}
	return c.announce(ctx, kind)
}

// Members returns the presence list as last seen by this channel.
func (c *channel) Members() []backend.Member {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]backend.Member, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Leave removes self from presence, announces it and unsubscribes.
func (c *channel) Leave() error {
	var leaveErr error
	c.leaveOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		if err := c.bus.client.HDel(ctx, c.bus.presenceKey(c.topic), c.self.Key).Err(); err != nil {
			leaveErr = errs.NewError(errs.ErrBackendUnavailable).Wrap(err)
		}
		if err := c.announce(ctx, backend.PresenceLeave); err != nil && leaveErr == nil {
			leaveErr = err
		}

		c.shutdown()
		c.logger.Debug().Msg("Left redis topic.")
	})
	return leaveErr
}

func (c *channel) shutdown() {
	c.cancel()
	if err := c.ps.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to close subscription.")
	}
}

package wsbus

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatsync/internal/app/backend"
	"chatsync/internal/app/relay"
	"chatsync/internal/pkg/errs"
)

const writeWait = 10 * time.Second

type channel struct {
	bus     *Bus
	topic   string
	self    backend.Member
	handler backend.BroadcastHandler

	// ctx lives until Leave.
	ctx    context.Context
	cancel context.CancelFunc

	// writeMu serializes writes and guards conn.
	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	members map[string]backend.Member

	leaveOnce sync.Once
	logger    zerolog.Logger
}

func newChannel(b *Bus, topic string, self backend.Member, handler backend.BroadcastHandler) *channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &channel{
		bus:     b,
		topic:   topic,
		self:    self,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		members: make(map[string]backend.Member),
		logger:  b.logger.With().Str("topic", topic).Str("member_key", self.Key).Logger(),
	}
}

// connect obtains a fresh channel token and dials the relay.
func (c *channel) connect(ctx context.Context) error {
	token, err := c.bus.channelToken(ctx, c.topic, c.self)
	if err != nil {
		return err
	}

	conn, res, err := c.bus.opts.Dialer.DialContext(ctx, c.bus.topicURL(c.topic, token), nil)
	if res != nil && res.Body != nil {
		res.Body.Close()
	}
	if err != nil {
		if res != nil && res.StatusCode == http.StatusUnauthorized {
			return errs.NewError(errs.ErrUnauthorized).Wrap(err)
		}
		return errs.NewError(errs.ErrBackendUnavailable).Wrap(err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.ctx.Err() != nil {
		conn.Close()
		return errs.NewError(errs.ErrBackendUnavailable).Wrap(c.ctx.Err())
	}
	c.conn = conn
	return nil
}

// run reads until Leave, reconnecting after transport failures. A kicked or
// rejected session does not reconnect.
func (c *channel) run() {
	backoff := c.bus.opts.ReconnectMin

	for {
		err := c.readLoop()
		if c.ctx.Err() != nil {
			return
		}

		c.dropConn()

		if websocket.IsCloseError(err, relay.CloseSessionKicked, relay.CloseTopicFull) {
			c.logger.Warn().Err(err).Msg("Relay closed the session; not reconnecting.")
			return
		}
		c.logger.Warn().Err(err).Dur("backoff", backoff).Msg("Relay connection lost, reconnecting.")

		for {
			timer := time.NewTimer(backoff)
			select {
			case <-c.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			err := c.connect(c.ctx)
			if err == nil {
				backoff = c.bus.opts.ReconnectMin
				break
			}
			c.logger.Debug().Err(err).Msg("Reconnect attempt failed.")

			backoff *= 2
			if backoff > c.bus.opts.ReconnectMax {
				backoff = c.bus.opts.ReconnectMax
			}
		}
	}
}

func (c *channel) currentConn() *websocket.Conn {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn
}

func (c *channel) dropConn() {
	c.writeMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.writeMu.Unlock()
}

func (c *channel) readLoop() error {
	conn := c.currentConn()
	if conn == nil {
		return errors.New("not connected")
	}

	for {
		var f relay.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}

		switch f.Type {
		case relay.FrameEvent:
			if f.Event == nil {
				continue
			}
			c.apply(*f.Event)
			if c.ctx.Err() == nil {
				c.handler(*f.Event)
			}
		case relay.FrameError:
			if f.Error != nil {
				c.logger.Warn().Int("code", f.Error.Code).Str("message", f.Error.Message).Msg("Relay reported an error.")
			}
		case relay.FrameTokenUpdate:
			// Reconnects always request a fresh token.
		}
	}
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
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.ctx.Err() != nil || c.conn == nil {
		return errs.NewError(errs.ErrBackendUnavailable)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return errs.NewError(errs.ErrBackendUnavailable).Wrap(err)
	}

	if err := c.conn.WriteJSON(relay.InboundFrame{Kind: kind}); err != nil {
		return errs.NewError(errs.ErrBackendUnavailable).Wrap(err)
	}
	return nil
}

// Members returns the presence list last reported by the relay, sorted by key.
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

// Leave closes the connection; the relay then tells the others.
func (c *channel) Leave() error {
	c.leaveOnce.Do(func() {
		c.cancel()

		c.writeMu.Lock()
		defer c.writeMu.Unlock()

		if c.conn == nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leave")
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to send close frame.")
		}
		c.conn.Close()
		c.conn = nil

		c.logger.Debug().Msg("Left relay topic.")
	})
	return nil
}

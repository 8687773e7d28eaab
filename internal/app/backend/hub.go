package backend

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"chatsync/internal/pkg/logx"
)

const subscriberQueueSize = 256

// ChangeHub fans changes out to in-process subscribers. Each subscriber has its
// own queue and goroutine, so a slow handler never blocks the publisher or
// other subscribers. Backends publish into it and hand it out as their ChangeFeed.
type ChangeHub struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[int64]*subscriber
	logger zerolog.Logger
}

var _ ChangeFeed = (*ChangeHub)(nil)

type subscriber struct {
	hub     *ChangeHub
	id      int64
	filter  Filter
	handler ChangeHandler
	queue   chan Change
	done    chan struct{}
	once    sync.Once
}

// NewChangeHub constructs an empty hub. component names its log lines.
func NewChangeHub(component string) *ChangeHub {
	return &ChangeHub{
		subs:   make(map[int64]*subscriber),
		logger: logx.Component(component),
	}
}

// Subscribe registers handler for changes matching filter until Unsubscribe.
func (h *ChangeHub) Subscribe(_ context.Context, filter Filter, handler ChangeHandler) (Subscription, error) {
	h.mu.Lock()
	h.nextID++
	sub := &subscriber{
		hub:     h,
		id:      h.nextID,
		filter:  filter,
		handler: handler,
		queue:   make(chan Change, subscriberQueueSize),
		done:    make(chan struct{}),
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	go sub.run()

	return sub, nil
}

// Subscribers returns the number of live subscriptions.
func (h *ChangeHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish fans c out to matching subscribers without blocking.
func (h *ChangeHub) Publish(c Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.filter.Matches(c) {
			continue
		}
		select {
		case sub.queue <- c:
		default:
			h.logger.Warn().
				Int64("subscription_id", sub.id).
				Str("table", string(c.Table)).
				Msg("Subscriber queue full, dropping change.")
		}
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case c := <-s.queue:
			select {
			case <-s.done:
				return
			default:
			}
			s.handler(c)
		}
	}
}

// Unsubscribe removes the subscription. Queued changes are discarded.
func (s *subscriber) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		close(s.done)
	})
}

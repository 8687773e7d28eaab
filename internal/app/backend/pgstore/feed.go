package pgstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"chatsync/internal/app/backend"
	"chatsync/internal/pkg/logx"
)

// NotifyChannel is the LISTEN channel the change triggers publish on.
const NotifyChannel = "chat_changes"

const (
	minReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay = 30 * time.Second
)

// Feed listens for row changes on one dedicated connection and fans them out
// to subscribers. The listener starts with the first Subscribe and reconnects
// with backoff until Close.
type Feed struct {
	pool *pgxpool.Pool
	hub  *backend.ChangeHub

	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	logger zerolog.Logger
}

var _ backend.ChangeFeed = (*Feed)(nil)

// NewFeed constructs a feed on pool.
func NewFeed(pool *pgxpool.Pool) *Feed {
	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		pool:   pool,
		hub:    backend.NewChangeHub("pgstore_feed"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logx.Component("pgstore_feed"),
	}
}

// Subscribe registers handler and makes sure the listener is running.
func (f *Feed) Subscribe(ctx context.Context, filter backend.Filter, handler backend.ChangeHandler) (backend.Subscription, error) {
	f.once.Do(func() { go f.listen() })
	return f.hub.Subscribe(ctx, filter, handler)
}

// Close stops the listener and waits for it to exit.
func (f *Feed) Close() {
	f.once.Do(func() { close(f.done) })
	f.cancel()
	<-f.done
}

func (f *Feed) listen() {
	defer close(f.done)

	delay := minReconnectDelay
	for {
		err := f.listenOnce()
		if f.ctx.Err() != nil {
			return
		}

		f.logger.Warn().Err(err).Dur("retry_in", delay).Msg("Change listener disconnected, reconnecting.")
		select {
		case <-f.ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// listenOnce holds one connection in LISTEN mode until it fails.
func (f *Feed) listenOnce() error {
	conn, err := f.pool.Acquire(f.ctx)
	if err != nil {
		return mapError(err, 0)
	}
	// A connection that was listening must not go back to the pool.
	pgConn := conn.Hijack()
	defer pgConn.Close(context.Background())

	if _, err := pgConn.Exec(f.ctx, "LISTEN "+NotifyChannel); err != nil {
		return mapError(err, 0)
	}
	f.logger.Debug().Msg("Listening for row changes.")

	for {
		n, err := pgConn.WaitForNotification(f.ctx)
		if err != nil {
			return err
		}

		var c backend.Change
		if err := json.Unmarshal([]byte(n.Payload), &c); err != nil {
			f.logger.Warn().Err(err).Str("payload", n.Payload).Msg("Ignoring malformed change notification.")
			continue
		}
		f.hub.Publish(c)
	}
}

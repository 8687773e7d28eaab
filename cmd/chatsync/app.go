package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"chatsync/internal/app/backend"
	"chatsync/internal/app/backend/pgstore"
	"chatsync/internal/app/broadcast/membus"
	"chatsync/internal/app/broadcast/redisbus"
	"chatsync/internal/app/broadcast/wsbus"
	"chatsync/internal/app/chat"
	"chatsync/internal/app/localstore"
	"chatsync/internal/app/user"
	"chatsync/internal/configs"
	"chatsync/internal/pkg/logx"
)

// ProfileWriter stores profiles. Only the postgres backend implements it.
type ProfileWriter interface {
	UpsertProfile(ctx context.Context, p user.Profile) error
}

// app holds the opened backends of one command invocation.
type app struct {
	store     backend.Store
	changes   backend.ChangeFeed
	bus       backend.Broadcaster
	persister chat.Persister
	caller    *user.TokenCaller
	profiles  ProfileWriter

	// migrate and schemaVersion are nil when the store has no schema.
	migrate       func(ctx context.Context) error
	schemaVersion func(ctx context.Context) (int64, error)

	closers []func()
}

// opener builds an app from cfg. Tests swap in in-memory backends.
type opener func(ctx context.Context, cfg *configs.ClientConfig) (*app, error)

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// openApp connects to postgres, the configured broadcast backend and the local state file.
func openApp(ctx context.Context, cfg *configs.ClientConfig) (*app, error) {
	a := &app{}

	pool, err := pgstore.NewPool(ctx, cfg.DatabaseDSN, pgstore.PoolOptions{
		MaxConns:    cfg.DBMaxConns,
		AutoMigrate: cfg.DBAutoMigrate,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)

	store := pgstore.New(pool)
	feed := pgstore.NewFeed(pool)
	a.closers = append(a.closers, feed.Close)

	a.store = store
	a.changes = feed
	a.profiles = store
	a.migrate = func(ctx context.Context) error { return pgstore.Migrate(ctx, pool) }
	a.schemaVersion = func(ctx context.Context) (int64, error) { return pgstore.MigrationStatus(ctx, pool) }

	bus, closeBus, err := openBus(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.bus = bus
	if closeBus != nil {
		a.closers = append(a.closers, closeBus)
	}

	local, err := localstore.Open(cfg.StatePath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.persister = local
	a.closers = append(a.closers, func() {
		if err := local.Close(); err != nil {
			logx.Warn("Failed to close local state store.", "error", err.Error())
		}
	})

	a.caller = user.NewTokenCaller(cfg.UserToken, cfg.JWTSecret, store)
	logPoolStats(pool)
	return a, nil
}

func openBus(ctx context.Context, cfg *configs.ClientConfig) (backend.Broadcaster, func(), error) {
	switch cfg.Broadcast {
	case configs.BroadcastMemory:
		return membus.New(), nil, nil

	case configs.BroadcastRelay:
		bus, err := wsbus.New(wsbus.Options{BaseURL: cfg.RelayURL, IdentityToken: cfg.UserToken})
		if err != nil {
			return nil, nil, err
		}
		return bus, nil, nil

	case configs.BroadcastRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		return redisbus.New(client, redisbus.Options{}), func() { client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown broadcast backend %q", cfg.Broadcast)
	}
}

func logPoolStats(pool *pgxpool.Pool) {
	stat := pool.Stat()
	logx.Debug("Database pool ready.", "max_conns", stat.MaxConns(), "total_conns", stat.TotalConns())
}

// newSession builds and starts a chat session on a.
func (a *app) newSession(ctx context.Context, cfg *configs.ClientConfig) (*chat.Session, error) {
	state, err := chat.NewState(ctx, a.persister)
	if err != nil {
		return nil, err
	}

	session, err := chat.NewSession(chat.Deps{
		Store:   a.store,
		Changes: a.changes,
		Bus:     a.bus,
		Caller:  a.caller,
		State:   state,
	}, chat.Config{
		IdentityResolveTimeout: cfg.IdentityResolveTimeout,
		TypingTimeout:          cfg.TypingTimeout,
	})
	if err != nil {
		return nil, err
	}

	if err := session.Start(ctx); err != nil {
		session.Close()
		return nil, err
	}
	a.closers = append(a.closers, session.Close)
	return session, nil
}

package chat

import (
	"context"
	"time"

	"github.com/folkengine/goname"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"chatsync/internal/app/backend"
	"chatsync/internal/app/model"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
	"chatsync/internal/pkg/randx"
)

// DefaultIdentityResolveTimeout bounds one identity lookup-or-create.
const DefaultIdentityResolveTimeout = 5 * time.Second

// fallbackIdentityColor is used if the random source fails.
const fallbackIdentityColor = "#64748b"

// Resolver maps (room, session token or user) to a stable anonymous identity.
type Resolver struct {
	store   backend.Store
	timeout time.Duration
	group   singleflight.Group
	names   func() string
	colors  func() (string, error)
	logger  zerolog.Logger
}

// NewResolver constructs a Resolver. A non-positive timeout uses the default.
func NewResolver(store backend.Store, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultIdentityResolveTimeout
	}
	return &Resolver{
		store:   store,
		timeout: timeout,
		names:   func() string { return goname.New(goname.FantasyMap).FirstLast() },
		colors:  randx.IdentityColor,
		logger:  logx.Component("identity_resolver"),
	}
}

// GetOrCreate returns the caller's identity in roomID, creating it on first use.
// Calls for the same key in this process share one backend round trip; a
// duplicate insert from another process is resolved by reading the winner.
// Cancelling ctx abandons only this caller's wait.
func (r *Resolver) GetOrCreate(ctx context.Context, roomID, sessionToken, userID string) (*model.AnonymousIdentity, error) {
	owner := model.IdentityOwner{SessionToken: sessionToken, UserID: userID}
	if owner.Key() == "" {
		return nil, errs.NewError(errs.ErrIdentityOwnerMissing)
	}

	// The shared lookup is bounded by the resolve timeout, not by any one caller.
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(roomID+"|"+owner.Key(), func() (any, error) {
		return r.getOrCreate(shared, roomID, owner)
	})

	select {
	case <-ctx.Done():
		return nil, errs.NewError(errs.ErrBackendUnavailable).Wrap(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		identity := *res.Val.(*model.AnonymousIdentity)
		return &identity, nil
	}
}

func (r *Resolver) getOrCreate(ctx context.Context, roomID string, owner model.IdentityOwner) (*model.AnonymousIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	found, err := r.store.FindIdentity(ctx, roomID, owner)
	if err == nil {
		return found, nil
	}
	if !errs.HasCode(err, errs.ErrRecordNotFound) {
		return nil, err
	}

	color, err := r.colors()
	if err != nil {
		r.logger.Warn().Err(err).Msg("Color generation failed, using fallback.")
		color = fallbackIdentityColor
	}

	created, err := r.store.InsertIdentity(ctx, model.AnonymousIdentity{
		RoomID:       roomID,
		SessionToken: owner.SessionToken,
		UserID:       owner.UserID,
		DisplayName:  r.names(),
		Color:        color,
	})
	if err == nil {
		r.logger.Debug().Str("room_id", roomID).Str("identity_id", created.ID).Msg("Anonymous identity created.")
		return created, nil
	}

	if errs.HasCode(err, errs.ErrDuplicate) {
		r.logger.Debug().Str("room_id", roomID).Msg("Identity created concurrently, reusing existing row.")
		return r.store.FindIdentity(ctx, roomID, owner)
	}

	return nil, err
}

// Lookup returns the caller's identity in roomID, or nil when none exists yet.
func (r *Resolver) Lookup(ctx context.Context, roomID, sessionToken, userID string) (*model.AnonymousIdentity, error) {
	owner := model.IdentityOwner{SessionToken: sessionToken, UserID: userID}
	if owner.Key() == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	found, err := r.store.FindIdentity(ctx, roomID, owner)
	if errs.HasCode(err, errs.ErrRecordNotFound) {
		return nil, nil
	}
	return found, err
}

package user

import (
	"context"
	"sync"

	"chatsync/internal/pkg/auth/jwt"
	"chatsync/internal/pkg/errs"
)

// ProfileLoader fetches a profile by account ID.
type ProfileLoader interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// Anonymous is a Caller that is never signed in.
type Anonymous struct{}

// CurrentUser always returns nil.
func (Anonymous) CurrentUser(context.Context) (*Profile, error) {
	return nil, nil
}

// TokenCaller resolves the current caller from a user identity JWT.
// An empty token means the caller is anonymous. The profile is loaded lazily
// and cached until Refresh is called, so an incomplete profile stays incomplete
// until the member finishes onboarding and the client refreshes.
type TokenCaller struct {
	token   string
	secret  string
	loader  ProfileLoader
	mu      sync.Mutex
	profile *Profile
}

// NewTokenCaller constructs a TokenCaller.
func NewTokenCaller(token, secret string, loader ProfileLoader) *TokenCaller {
	return &TokenCaller{token: token, secret: secret, loader: loader}
}

// CurrentUser returns the signed-in profile, or nil when no token is configured.
func (c *TokenCaller) CurrentUser(ctx context.Context) (*Profile, error) {
	if c.token == "" {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.profile != nil {
		return c.profile, nil
	}

	payload, err := jwt.ParseToken(c.token, c.secret)
	if err != nil {
		return nil, errs.NewError(errs.ErrUnauthorized).Wrap(err)
	}
	if payload.Topic != "" || payload.UserType != jwt.UserTypeRegistered {
		return nil, errs.NewError(errs.ErrUnauthorized)
	}

	profile, err := c.loader.GetProfile(ctx, payload.ID)
	if err != nil {
		return nil, err
	}

	c.profile = profile
	return profile, nil
}

// Refresh drops the cached profile.
func (c *TokenCaller) Refresh() {
	c.mu.Lock()
	c.profile = nil
	c.mu.Unlock()
}

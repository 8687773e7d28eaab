package user

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/pkg/auth/jwt"
	"chatsync/internal/pkg/errs"
)

type stubLoader struct {
	calls    int
	profiles map[string]*Profile
}

func (s *stubLoader) GetProfile(_ context.Context, id string) (*Profile, error) {
	s.calls++
	p, ok := s.profiles[id]
	if !ok {
		return nil, errs.NewError(errs.ErrRecordNotFound)
	}
	return p, nil
}

func TestProfile_IsComplete(t *testing.T) {
	var nilProfile *Profile
	assert.False(t, nilProfile.IsComplete())
	assert.False(t, (&Profile{DisplayName: "Alice"}).IsComplete())
	assert.False(t, (&Profile{DisplayName: "  ", OnboardingCompleted: true}).IsComplete())
	assert.True(t, (&Profile{DisplayName: "Alice", OnboardingCompleted: true}).IsComplete())
}

func TestProfile_Name(t *testing.T) {
	assert.Equal(t, "alice", (&Profile{Username: "alice"}).Name())
	assert.Equal(t, "Alice", (&Profile{Username: "alice", DisplayName: "Alice"}).Name())
}

func TestTokenCaller(t *testing.T) {
	const secret = "s3cret"
	loader := &stubLoader{profiles: map[string]*Profile{
		"u1": {ID: "u1", Username: "alice", DisplayName: "Alice", OnboardingCompleted: true},
	}}

	token, err := jwt.GenerateToken(&jwt.Payload{ID: "u1", UserType: jwt.UserTypeRegistered}, secret, time.Hour)
	require.NoError(t, err)

	caller := NewTokenCaller(token, secret, loader)
	p, err := caller.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)

	_, err = caller.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls)

	caller.Refresh()
	_, err = caller.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, loader.calls)
}

func TestTokenCaller_AnonymousAndInvalid(t *testing.T) {
	p, err := NewTokenCaller("", "x", &stubLoader{}).CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = NewTokenCaller("garbage", "x", &stubLoader{}).CurrentUser(context.Background())
	assert.True(t, errs.HasCode(err, errs.ErrUnauthorized))
}

package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewError(t *testing.T) {
	err := NewError(ErrRoomNameTooLong, 80)
	assert.Equal(t, ErrRoomNameTooLong, err.Code)
	assert.Equal(t, "Room name must be at most 80 characters.", err.Message)
	assert.Equal(t, http.StatusOK, err.Status)

	unknown := NewError(99999)
	assert.Equal(t, ErrUnknown, unknown.Code)

	cause := errors.New("boom")
	wrapped := NewError(ErrUnknown, cause)
	assert.ErrorIs(t, wrapped, cause)
}

func TestWrapAndIs(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := fmt.Errorf("loading rooms: %w", NewError(ErrBackendUnavailable).Wrap(cause))

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, NewError(ErrBackendUnavailable))
	assert.NotErrorIs(t, err, NewError(ErrRelationMissing))
	assert.True(t, HasCode(err, ErrBackendUnavailable))
	assert.Equal(t, ErrBackendUnavailable, Code(err))
	assert.Contains(t, err.Error(), "connection refused")

	assert.False(t, HasCode(nil, ErrUnknown))
	assert.Equal(t, 0, Code(errors.New("plain")))
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, ""},
		{"relation missing", NewError(ErrRelationMissing), CategoryConfiguration},
		{"unavailable", NewError(ErrBackendUnavailable), CategoryConnectivity},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), CategoryConnectivity},
		{"validation", NewError(ErrMessageContentEmpty), CategoryValidation},
		{"not found", NewError(ErrMessageNotFound), CategoryNotFound},
		{"profile", NewError(ErrProfileRequired), CategoryAuthorization},
		{"plain", errors.New("plain"), CategoryInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategoryOf(tt.err))
		})
	}

	assert.True(t, Retryable(NewError(ErrBackendUnavailable)))
	assert.False(t, Retryable(NewError(ErrRelationMissing)))
}

func TestGuidanceDiffersPerCategory(t *testing.T) {
	seen := map[string]Category{}
	for _, err := range []error{
		NewError(ErrRelationMissing),
		NewError(ErrBackendUnavailable),
		NewError(ErrRoomNotFound),
		NewError(ErrPermissionDenied),
		NewError(ErrProfileRequired),
		NewError(ErrMessageContentEmpty),
		errors.New("plain"),
	} {
		g := Guidance(err)
		assert.NotEmpty(t, g)
		_, dup := seen[g]
		assert.False(t, dup, "duplicate guidance %q", g)
		seen[g] = CategoryOf(err)
	}

	assert.Contains(t, Guidance(NewError(ErrRelationMissing)), "chatsync migrate")
	assert.Equal(t, "Message cannot be empty.", Guidance(NewError(ErrMessageContentEmpty)))
	assert.Empty(t, Guidance(nil))
}

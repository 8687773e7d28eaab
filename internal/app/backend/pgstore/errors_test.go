package pgstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"chatsync/internal/pkg/errs"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound int
		wantCode int
		wantCat  errs.Category
	}{
		{name: "no rows", err: pgx.ErrNoRows, notFound: errs.ErrMessageNotFound, wantCode: errs.ErrMessageNotFound, wantCat: errs.CategoryNotFound},
		{name: "no rows default", err: fmt.Errorf("scan: %w", pgx.ErrNoRows), wantCode: errs.ErrRecordNotFound, wantCat: errs.CategoryNotFound},
		{name: "undefined table", err: &pgconn.PgError{Code: "42P01"}, wantCode: errs.ErrRelationMissing, wantCat: errs.CategoryConfiguration},
		{name: "missing schema", err: &pgconn.PgError{Code: "3F000"}, wantCode: errs.ErrRelationMissing, wantCat: errs.CategoryConfiguration},
		{name: "profile gate", err: &pgconn.PgError{Code: "42501", Message: "profile_required"}, wantCode: errs.ErrProfileRequired, wantCat: errs.CategoryAuthorization},
		{name: "permission", err: &pgconn.PgError{Code: "42501", Message: "anonymous_room"}, wantCode: errs.ErrPermissionDenied, wantCat: errs.CategoryAuthorization},
		{name: "duplicate", err: &pgconn.PgError{Code: "23505"}, wantCode: errs.ErrDuplicate, wantCat: errs.CategoryInternal},
		{name: "reply outside room", err: &pgconn.PgError{Code: "23514", Message: "reply_outside_room"}, wantCode: errs.ErrReplyOutsideRoom, wantCat: errs.CategoryValidation},
		{name: "reply target gone", err: &pgconn.PgError{Code: "P0002", Message: "reply_not_found"}, wantCode: errs.ErrMessageNotFound, wantCat: errs.CategoryNotFound},
		{name: "room gone", err: &pgconn.PgError{Code: "P0002", Message: "room_not_found"}, wantCode: errs.ErrRoomNotFound, wantCat: errs.CategoryNotFound},
		{name: "deadline", err: context.DeadlineExceeded, wantCode: errs.ErrBackendUnavailable, wantCat: errs.CategoryConnectivity},
		{name: "dial", err: errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), wantCode: errs.ErrBackendUnavailable, wantCat: errs.CategoryConnectivity},
		{name: "other pg error", err: &pgconn.PgError{Code: "XX000"}, wantCode: errs.ErrUnknown, wantCat: errs.CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, tt.notFound)
			assert.Equal(t, tt.wantCode, errs.Code(got))
			assert.Equal(t, tt.wantCat, errs.CategoryOf(got))
		})
	}

	assert.NoError(t, mapError(nil, 0))
}

func TestMapError_KeepsCause(t *testing.T) {
	cause := &pgconn.PgError{Code: "42P01", Message: `relation "rooms" does not exist`}
	got := mapError(cause, 0)

	var pgErr *pgconn.PgError
	assert.True(t, errors.As(got, &pgErr))
	assert.Contains(t, got.Error(), "rooms")
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}

package pgstore

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"chatsync/internal/pkg/errs"
)

// IsUniqueViolation checks if the error is a PostgreSQL unique constraint violation (code 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// mapError converts driver errors into application errors. notFound is the
// code reported for a missing row; 0 means ErrRecordNotFound.
func mapError(err error, notFound int) error {
	if err == nil {
		return nil
	}
	if notFound == 0 {
		notFound = errs.ErrRecordNotFound
	}

	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		return err
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return errs.NewError(notFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01", "3F000":
			// undefined_table, invalid_schema_name
			return errs.NewError(errs.ErrRelationMissing).Wrap(err)
		case "42501":
			if pgErr.Message == "profile_required" {
				return errs.NewError(errs.ErrProfileRequired).Wrap(err)
			}
			return errs.NewError(errs.ErrPermissionDenied).Wrap(err)
		case "23505":
			return errs.NewError(errs.ErrDuplicate).Wrap(err)
		case "23514":
			if pgErr.Message == "reply_outside_room" {
				return errs.NewError(errs.ErrReplyOutsideRoom).Wrap(err)
			}
			return errs.NewError(errs.ErrInvalidParams).Wrap(err)
		case "P0002":
			switch pgErr.Message {
			case "room_not_found":
				return errs.NewError(errs.ErrRoomNotFound).Wrap(err)
			case "reply_not_found":
				return errs.NewError(errs.ErrMessageNotFound).Wrap(err)
			}
			return errs.NewError(notFound).Wrap(err)
		case "22P02", "23503":
			// Malformed or dangling reference: the target does not exist.
			return errs.NewError(notFound).Wrap(err)
		}
		return errs.NewError(errs.ErrUnknown, err)
	}

	// Everything else is a dial, timeout or closed-connection failure.
	return errs.NewError(errs.ErrBackendUnavailable).Wrap(err)
}

package errs

import (
	"context"
	"errors"
)

// Category groups error codes by how they are surfaced to the user.
type Category string

const (
	// CategoryConfiguration means the backend is missing a required relation; show setup steps, never retry.
	CategoryConfiguration Category = "configuration"

	// CategoryConnectivity means a network failure or backend outage; offer a retry.
	CategoryConnectivity Category = "connectivity"

	// CategoryValidation means the input was rejected before any backend call.
	CategoryValidation Category = "validation"

	// CategoryAuthorization means the caller may not perform the operation.
	CategoryAuthorization Category = "authorization"

	// CategoryNotFound means the target vanished; navigate back to a list.
	CategoryNotFound Category = "not_found"

	// CategoryInternal covers everything else.
	CategoryInternal Category = "internal"
)

// CategoryOf classifies err. A nil error has no category.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}

	var customErr *CustomError
	if errors.As(err, &customErr) && customErr.Category != "" {
		return customErr.Category
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryConnectivity
	}

	return CategoryInternal
}

// Retryable reports whether offering a retry makes sense for err.
func Retryable(err error) bool {
	return CategoryOf(err) == CategoryConnectivity
}

// Guidance returns the user-facing next step for err, distinct per category.
func Guidance(err error) string {
	switch CategoryOf(err) {
	case CategoryConfiguration:
		return "The chat tables have not been provisioned. Run `chatsync migrate` (or enable DB_AUTO_MIGRATE) against the database, then reload."
	case CategoryConnectivity:
		return "Could not reach the chat backend. Check your connection and try again."
	case CategoryNotFound:
		return "It may have been deleted by someone else. Go back to the room list."
	case CategoryAuthorization:
		if HasCode(err, ErrProfileRequired) {
			return "Finish setting up your profile to chat with your name in this room."
		}
		return "You do not have permission to do that."
	case CategoryValidation:
		var customErr *CustomError
		if errors.As(err, &customErr) {
			return customErr.Message
		}
		return "Please check your input."
	case "":
		return ""
	default:
		return "Something went wrong. Please try again."
	}
}

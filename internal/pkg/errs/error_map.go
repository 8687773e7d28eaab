/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses on the relay and error classification in the chat client.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message, category and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters.", Category: CategoryValidation},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Category: CategoryValidation},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Category: CategoryValidation},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Category: CategoryValidation},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests, Category: CategoryConnectivity},

	// 2xxx: Room and Message Validation Errors
	ErrRoomNameEmpty:         {Code: ErrRoomNameEmpty, Message: "Room name is required.", Category: CategoryValidation},
	ErrRoomNameTooLong:       {Code: ErrRoomNameTooLong, Message: "Room name must be at most %d characters.", Category: CategoryValidation},
	ErrRoomNotFound:          {Code: ErrRoomNotFound, Message: "Chat room not found.", Status: http.StatusNotFound, Category: CategoryNotFound},
	ErrMessageContentEmpty:   {Code: ErrMessageContentEmpty, Message: "Message cannot be empty.", Category: CategoryValidation},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long.", Category: CategoryValidation},
	ErrMessageKindInvalid:    {Code: ErrMessageKindInvalid, Message: "Unsupported message type.", Category: CategoryValidation},
	ErrMessageNotFound:       {Code: ErrMessageNotFound, Message: "Message not found.", Status: http.StatusNotFound, Category: CategoryNotFound},
	ErrReplyOutsideRoom:      {Code: ErrReplyOutsideRoom, Message: "You can only reply to messages in this room.", Category: CategoryValidation},
	ErrIdentityOwnerMissing:  {Code: ErrIdentityOwnerMissing, Message: "A session token or user is required.", Category: CategoryValidation},
	ErrTopicInvalid:          {Code: ErrTopicInvalid, Message: "Invalid channel.", Category: CategoryValidation},
	ErrTopicFull:             {Code: ErrTopicFull, Message: "This channel is full.", Status: http.StatusConflict, Category: CategoryConnectivity},

	// 3xxx: Authorization Errors
	ErrUnauthorized:         {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized, Category: CategoryAuthorization},
	ErrProfileRequired:      {Code: ErrProfileRequired, Message: "Complete your profile to chat in this room.", Status: http.StatusForbidden, Category: CategoryAuthorization},
	ErrNotMessageOwner:      {Code: ErrNotMessageOwner, Message: "You can only change your own messages.", Status: http.StatusForbidden, Category: CategoryAuthorization},
	ErrConfirmationDeclined: {Code: ErrConfirmationDeclined, Message: "Deletion was not confirmed.", Category: CategoryValidation},
	ErrPermissionDenied:     {Code: ErrPermissionDenied, Message: "You are not allowed to do that.", Status: http.StatusForbidden, Category: CategoryAuthorization},
	ErrSessionKicked:        {Code: ErrSessionKicked, Message: "You were connected from another tab.", Category: CategoryAuthorization},

	// 4xxx: Backend Errors
	ErrRelationMissing:    {Code: ErrRelationMissing, Message: "The chat backend is not set up yet.", Status: http.StatusServiceUnavailable, Category: CategoryConfiguration},
	ErrBackendUnavailable: {Code: ErrBackendUnavailable, Message: "Could not reach the chat backend.", Status: http.StatusServiceUnavailable, Category: CategoryConnectivity},
	ErrDuplicate:          {Code: ErrDuplicate, Message: "Record already exists.", Status: http.StatusConflict, Category: CategoryInternal},
	ErrRecordNotFound:     {Code: ErrRecordNotFound, Message: "Record not found.", Status: http.StatusNotFound, Category: CategoryNotFound},

	// 5xxx: Internal System Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError, Category: CategoryInternal},
}

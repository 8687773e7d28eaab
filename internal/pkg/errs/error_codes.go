/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the chat client, the backends it talks to, and the relay server.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Room and Message Validation Errors
const (
	// ErrRoomNameEmpty indicates that a room was created with a blank name.
	ErrRoomNameEmpty = 2101

	// ErrRoomNameTooLong indicates that the room name exceeded the maximum length.
	ErrRoomNameTooLong = 2102

	// ErrRoomNotFound indicates that the room does not exist (or was deleted by another client).
	ErrRoomNotFound = 2103

	// ErrMessageContentEmpty indicates that a message was empty or whitespace only.
	ErrMessageContentEmpty = 2201

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2202

	// ErrMessageKindInvalid indicates a message kind other than text or code.
	ErrMessageKindInvalid = 2203

	// ErrMessageNotFound indicates that the target message does not exist.
	ErrMessageNotFound = 2204

	// ErrReplyOutsideRoom indicates that a reply target belongs to another room.
	ErrReplyOutsideRoom = 2205

	// ErrIdentityOwnerMissing indicates that neither a session token nor a user was supplied
	// when resolving an anonymous identity.
	ErrIdentityOwnerMissing = 2301

	// ErrTopicInvalid indicates that a broadcast topic name is malformed.
	ErrTopicInvalid = 2401

	// ErrTopicFull indicates that a broadcast topic reached its member limit.
	ErrTopicFull = 2402
)

// 3xxx: Authorization Errors
const (
	// ErrUnauthorized indicates that the caller is not signed in or the token is invalid.
	ErrUnauthorized = 3001

	// ErrProfileRequired indicates that a signed-in user must complete a profile before
	// chatting in an identity room.
	ErrProfileRequired = 3002

	// ErrNotMessageOwner indicates an edit or delete attempted by someone other than the sender.
	ErrNotMessageOwner = 3003

	// ErrConfirmationDeclined indicates that a destructive operation was not confirmed.
	ErrConfirmationDeclined = 3004

	// ErrPermissionDenied indicates that the backend rejected the operation.
	ErrPermissionDenied = 3005

	// ErrSessionKicked indicates that the current relay connection has been replaced.
	ErrSessionKicked = 3006
)

// 4xxx: Backend Errors
const (
	// ErrRelationMissing indicates that a required table or relation is absent in the backend.
	ErrRelationMissing = 4001

	// ErrBackendUnavailable indicates a network failure or backend outage.
	ErrBackendUnavailable = 4002

	// ErrDuplicate indicates a unique key collision.
	ErrDuplicate = 4003

	// ErrRecordNotFound indicates a single-row query that matched nothing.
	ErrRecordNotFound = 4004
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general internal error.
	ErrUnknown = 5000
)

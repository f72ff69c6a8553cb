package models

import "errors"

// Error taxonomy for the webhook pipeline. Errors discovered before the
// acknowledgement map to HTTP status codes; errors discovered after it are
// reported as messages posted into the originating thread.
var (
	// ErrInvalidEvent marks a malformed or incomplete event payload (400).
	ErrInvalidEvent = errors.New("invalid event")

	// ErrUserNotFound means no platform account matches the sender's email.
	ErrUserNotFound = errors.New("user not found")

	// ErrChatNotFound means the resolved chat id has no backing record.
	ErrChatNotFound = errors.New("chat not found")

	// ErrChatExists is returned by the store when a conditional create loses
	// the race for a thread key. Callers fall back to appending against the
	// winner's record.
	ErrChatExists = errors.New("chat already exists for thread key")

	// ErrNotChatOwner means the requester is not the owner of the chat the
	// thread maps to. Agent invocation must never start in this state.
	ErrNotChatOwner = errors.New("not authorized to access this chat")
)

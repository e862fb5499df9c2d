package core

import "errors"

// Rejection reason codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeRoomRequired = "room_required"
	ErrCodeUnknownEvent = "unknown_event"
	ErrCodeRateLimited  = "rate_limited"
)

// ErrRoomRequired is the reason given when a room event names no room.
var ErrRoomRequired = errors.New("room id is required")

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// ErrHubStopped is returned by queries issued after the hub loop exited.
var ErrHubStopped = errors.New("hub stopped")

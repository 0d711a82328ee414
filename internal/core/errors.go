package core

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/trekchat/internal/store"
)

// Error codes for domain errors.
const (
	ErrCodeRoomNotFound     = "room_not_found"
	ErrCodePermissionDenied = "permission_denied"
	ErrCodeBadRequest       = "bad_request"
	ErrCodeConflict         = "conflict"
	ErrCodeUnavailable      = "store_unavailable"
	ErrCodeInternal         = "internal"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrPermissionDenied = errors.New("not a member of this room")
	ErrBadRequest       = errors.New("bad request")
)

// CoreError wraps a code, a human-readable message and the cause.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CoreError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the same operation.
// Only transient store failures are retryable.
func (e *CoreError) Retryable() bool {
	return e.Code == ErrCodeUnavailable
}

func coreError(code, msg string, err error) *CoreError {
	return &CoreError{Code: code, Message: msg, Err: err}
}

// NotFound reports a missing room.
func NotFound(roomID string) *CoreError {
	return coreError(ErrCodeRoomNotFound, "room "+roomID+" not found", ErrRoomNotFound)
}

// PermissionDenied reports a sender that may not write to the room.
func PermissionDenied(roomID, userID string) *CoreError {
	return coreError(ErrCodePermissionDenied, "user "+userID+" may not post to room "+roomID, ErrPermissionDenied)
}

// BadRequest reports invalid input.
func BadRequest(msg string) *CoreError {
	return coreError(ErrCodeBadRequest, msg, ErrBadRequest)
}

// FromStore maps a persistence error onto the taxonomy.
func FromStore(op string, err error) *CoreError {
	var ce *CoreError
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, store.ErrNotFound):
		return coreError(ErrCodeRoomNotFound, op, err)
	case errors.Is(err, store.ErrConflict):
		return coreError(ErrCodeConflict, op, err)
	case errors.Is(err, store.ErrUnavailable):
		return coreError(ErrCodeUnavailable, op, err)
	default:
		return coreError(ErrCodeInternal, op, err)
	}
}

// CodeOf returns the code carried by err, or ErrCodeInternal.
func CodeOf(err error) string {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}

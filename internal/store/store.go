package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a room does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks transient persistence failures (network, timeout, busy database).
	ErrUnavailable = errors.New("store unavailable")
	// ErrConflict is returned when a unique constraint, such as a room name, is violated.
	ErrConflict = errors.New("already exists")
)

// MessageState is the lifecycle state of a message as seen by a client.
// Expired is not a state: an expired message is simply absent from the store.
type MessageState string

const (
	// StatePending exists only in the sender's local cache.
	StatePending MessageState = "pending"
	// StateConfirmed is present in the message store.
	StateConfirmed MessageState = "confirmed"
	// StateFailed marks a send attempt that errored.
	StateFailed MessageState = "failed"
)

// Message represents a chat message.
type Message struct {
	ID          string // server identity, empty until confirmed
	ClientID    string // sender-chosen correlation token, optional
	RoomID      string
	AuthorID    string
	AuthorName  string
	AuthorPhoto string
	Text        string
	CreatedAt   time.Time
	ExpiresAt   *time.Time // nil for legacy rows
	State       MessageState

	// Local-only fields, never persisted.
	AttemptedAt time.Time
	FailReason  string
}

// Room represents a community chat room and its aggregate counters.
type Room struct {
	ID           string
	Name         string
	Description  string
	Members      []string // populated by GetRoom only
	MemberCount  int64
	MessageCount int64
	Lifetime     time.Duration
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MessageStore handles message persistence.
type MessageStore interface {
	// Append persists msg, assigning its server ID and CreatedAt and deriving
	// ExpiresAt from lifetime.
	Append(ctx context.Context, msg *Message, lifetime time.Duration) error

	// ListMessages returns all messages of a room ordered by CreatedAt ascending.
	ListMessages(ctx context.Context, roomID string) ([]*Message, error)

	// ListExpired returns messages with an explicit ExpiresAt not after before.
	ListExpired(ctx context.Context, roomID string, before time.Time) ([]*Message, error)

	// ListLegacy returns messages without ExpiresAt created not after before.
	ListLegacy(ctx context.Context, roomID string, before time.Time) ([]*Message, error)

	// DeleteMessage removes a message. Deleting a missing message is not an error.
	DeleteMessage(ctx context.Context, roomID, id string) error

	// CountMessages returns the number of messages currently stored for a room.
	CountMessages(ctx context.Context, roomID string) (int64, error)
}

// RoomRegistry is the source of truth for rooms and their counters.
type RoomRegistry interface {
	// CreateRoom creates a new room.
	CreateRoom(ctx context.Context, name, description string, lifetime time.Duration) (*Room, error)

	// GetRoom retrieves a room with its members.
	GetRoom(ctx context.Context, id string) (*Room, error)

	// ListRooms lists all rooms, oldest first.
	ListRooms(ctx context.Context) ([]*Room, error)

	// AddMember adds a user to a room.
	AddMember(ctx context.Context, roomID, userID string) error

	// IsMember checks if user is a member of the room.
	IsMember(ctx context.Context, roomID, userID string) (bool, error)

	// IncrementMessageCount bumps the advisory counter after an append.
	IncrementMessageCount(ctx context.Context, id string) error

	// SetMessageCount overwrites the counter with an authoritative value.
	SetMessageCount(ctx context.Context, id string, n int64) error
}

// Store aggregates room and message persistence.
type Store interface {
	RoomRegistry
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}

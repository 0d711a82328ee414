package core

import (
	"time"

	"github.com/vovakirdan/trekchat/internal/store"
)

// Snapshot is the confirmed message set of a room at one instant, ordered by
// CreatedAt ascending.
type Snapshot struct {
	RoomID   string
	Messages []store.Message
	Count    int64
	At       time.Time
}

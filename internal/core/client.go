package core

import "sync"

// Subscription is one consumer of a room's snapshot stream.
type Subscription struct {
	ID     string
	RoomID string

	ch   chan Snapshot
	hub  *Hub
	once sync.Once
}

func newSubscription(id, roomID string, hub *Hub) *Subscription {
	return &Subscription{
		ID:     id,
		RoomID: roomID,
		ch:     make(chan Snapshot, 1),
		hub:    hub,
	}
}

// C returns the snapshot channel. It is closed by Close.
func (s *Subscription) C() <-chan Snapshot {
	return s.ch
}

// deliver hands snap to the consumer. Snapshots carry full state, so a slow
// consumer only ever sees the newest one. Callers hold the hub lock.
func (s *Subscription) deliver(snap Snapshot) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// Close unsubscribes and closes the channel. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}

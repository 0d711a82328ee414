package core

import (
	"sync"

	"github.com/vovakirdan/trekchat/internal/utils"
)

// Hub fans room snapshots out to subscribers.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*Room)}
}

// Subscribe registers a new consumer for roomID.
func (h *Hub) Subscribe(roomID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[roomID]
	if !ok {
		room = NewRoom(roomID)
		h.rooms[roomID] = room
	}
	sub := newSubscription(utils.NewID(), roomID, h)
	room.Add(sub)
	return sub
}

// Publish delivers snap to the room's current subscribers.
func (h *Hub) Publish(snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[snap.RoomID]; ok {
		room.Broadcast(snap)
	}
}

// Deliver sends snap to a single subscription, keeping the latest-wins rule.
func (h *Hub) Deliver(sub *Subscription, snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[sub.RoomID]; ok {
		if _, live := room.subscriptions[sub]; live {
			sub.deliver(snap)
		}
	}
}

// Subscribers returns the number of consumers watching roomID.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[roomID]; ok {
		return len(room.subscriptions)
	}
	return 0
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[sub.RoomID]
	if !ok || !room.Remove(sub) {
		return
	}
	close(sub.ch)
	if room.Empty() {
		delete(h.rooms, sub.RoomID)
	}
}

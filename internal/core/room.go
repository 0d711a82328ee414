package core

// Room groups subscriptions watching the same room stream.
type Room struct {
	ID            string
	subscriptions map[*Subscription]struct{}
}

// NewRoom constructs a room with no subscribers.
func NewRoom(id string) *Room {
	return &Room{
		ID:            id,
		subscriptions: make(map[*Subscription]struct{}),
	}
}

// Add inserts a subscription. Returns true if newly added.
func (r *Room) Add(s *Subscription) bool {
	if _, exists := r.subscriptions[s]; exists {
		return false
	}
	r.subscriptions[s] = struct{}{}
	return true
}

// Remove deletes a subscription. Returns true if removed.
func (r *Room) Remove(s *Subscription) bool {
	if _, exists := r.subscriptions[s]; !exists {
		return false
	}
	delete(r.subscriptions, s)
	return true
}

// Broadcast delivers a snapshot to every subscriber.
func (r *Room) Broadcast(snap Snapshot) {
	for s := range r.subscriptions {
		s.deliver(snap)
	}
}

// Empty returns true if nobody watches the room.
func (r *Room) Empty() bool {
	return len(r.subscriptions) == 0
}

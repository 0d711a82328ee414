package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/trekchat/internal/store"
	"github.com/vovakirdan/trekchat/internal/utils"
)

// DefaultPendingTimeout is how long a message may stay Pending before the
// cache gives up on displaying it.
const DefaultPendingTimeout = 30 * time.Second

// Cache is a sender's local store of Pending and Failed messages.
//
// A Pending entry that is neither confirmed nor failed within the timeout is
// removed by its own timer. Removal only affects display: the underlying
// append is not cancelled and may still succeed.
type Cache struct {
	mu      sync.Mutex
	clock   clock.Clock
	timeout time.Duration
	onStale func(store.Message)
	entries map[string]*pending
}

type pending struct {
	msg   store.Message
	timer *clock.Timer
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock sets the clock used for attempt instants and staleness timers.
func WithClock(c clock.Clock) CacheOption {
	return func(cache *Cache) {
		cache.clock = c
	}
}

// WithPendingTimeout overrides DefaultPendingTimeout.
func WithPendingTimeout(d time.Duration) CacheOption {
	return func(cache *Cache) {
		if d > 0 {
			cache.timeout = d
		}
	}
}

// WithStaleHook registers fn to be called after a stale entry is dropped.
func WithStaleHook(fn func(store.Message)) CacheOption {
	return func(cache *Cache) {
		cache.onStale = fn
	}
}

// NewCache creates an empty cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		clock:   clock.New(),
		timeout: DefaultPendingTimeout,
		entries: make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add records msg as Pending and arms its staleness timer. A blank ClientID
// is filled in. The stored copy is returned.
func (c *Cache) Add(msg store.Message) store.Message {
	if msg.ClientID == "" {
		msg.ClientID = utils.NewID()
	}
	msg.ID = ""
	msg.State = store.StatePending
	msg.FailReason = ""
	if msg.AttemptedAt.IsZero() {
		msg.AttemptedAt = c.clock.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.entries[msg.ClientID]; ok {
		prev.stop()
	}
	p := &pending{msg: msg}
	p.timer = c.clock.AfterFunc(c.timeout, func() { c.expire(p) })
	c.entries[msg.ClientID] = p
	return msg
}

// expire drops p if it is still the live Pending entry for its ClientID.
func (c *Cache) expire(p *pending) {
	c.mu.Lock()
	cur, ok := c.entries[p.msg.ClientID]
	if !ok || cur != p || cur.msg.State != store.StatePending {
		c.mu.Unlock()
		return
	}
	delete(c.entries, p.msg.ClientID)
	hook := c.onStale
	c.mu.Unlock()

	if hook != nil {
		hook(p.msg)
	}
}

// Confirm removes the entry once the server accepted it. Reports whether an
// entry existed.
func (c *Cache) Confirm(clientID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.entries[clientID]
	if !ok {
		return false
	}
	p.stop()
	delete(c.entries, clientID)
	return true
}

// MarkFailed moves a Pending entry to Failed with reason. Failed entries stay
// until retried or discarded.
func (c *Cache) MarkFailed(clientID, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.entries[clientID]
	if !ok {
		return false
	}
	p.stop()
	p.msg.State = store.StateFailed
	p.msg.FailReason = reason
	return true
}

// Retry replaces a Failed entry with a fresh Pending copy under a new
// ClientID.
func (c *Cache) Retry(clientID string) (store.Message, bool) {
	c.mu.Lock()
	p, ok := c.entries[clientID]
	if !ok || p.msg.State != store.StateFailed {
		c.mu.Unlock()
		return store.Message{}, false
	}
	delete(c.entries, clientID)
	c.mu.Unlock()

	msg := p.msg
	msg.ClientID = ""
	msg.AttemptedAt = time.Time{}
	return c.Add(msg), true
}

// Discard removes an entry regardless of state.
func (c *Cache) Discard(clientID string) {
	c.Confirm(clientID)
}

// List returns local entries for a room ordered by attempt instant.
func (c *Cache) List(roomID string) []store.Message {
	c.mu.Lock()
	out := make([]store.Message, 0, len(c.entries))
	for _, p := range c.entries {
		if p.msg.RoomID == roomID {
			out = append(out, p.msg)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].AttemptedAt.Equal(out[j].AttemptedAt) {
			return out[i].AttemptedAt.Before(out[j].AttemptedAt)
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out
}

// Len returns the number of entries across rooms.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops every timer and empties the cache.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.entries {
		p.stop()
		delete(c.entries, id)
	}
}

func (p *pending) stop() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

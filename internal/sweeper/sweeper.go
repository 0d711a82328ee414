// Package sweeper purges expired messages room by room and refreshes the
// advisory message counters.
//
// Sweeps are safe to overlap: deleting an already deleted message is a no-op
// and the counter is always recomputed from a fresh count, never adjusted by
// a delta.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/trekchat/internal/metrics"
	"github.com/vovakirdan/trekchat/internal/store"
	"github.com/vovakirdan/trekchat/internal/ttl"
)

// DefaultWorkers bounds SweepAll parallelism.
const DefaultWorkers = 4

// Result describes one room sweep.
type Result struct {
	ExpiredDeleted int   // explicit ExpiresAt elapsed
	StaleDeleted   int   // legacy rows older than the room lifetime
	RemainingCount int64 // count written back to the room
}

// Deleted returns the total number of rows removed.
func (r Result) Deleted() int {
	return r.ExpiredDeleted + r.StaleDeleted
}

// Report collects the outcome of SweepAll. A room appears in exactly one map.
type Report struct {
	Results  map[string]Result
	Failures map[string]error
}

// Observer is notified after every successful room sweep.
type Observer func(ctx context.Context, roomID string, res Result)

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock sets the clock that defines "now" for expiry.
func WithClock(c clock.Clock) Option {
	return func(s *Sweeper) {
		s.clock = c
	}
}

// WithDefaultLifetime sets the lifetime used for rooms without one.
func WithDefaultLifetime(d time.Duration) Option {
	return func(s *Sweeper) {
		s.lifetime = ttl.Lifetime(d)
	}
}

// WithWorkers bounds how many rooms are swept at once, across SweepAll and
// scheduler triggers.
func WithWorkers(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.workers = n
		}
	}
}

// Sweeper deletes expired messages.
type Sweeper struct {
	messages store.MessageStore
	rooms    store.RoomRegistry
	log      *zerolog.Logger
	clock    clock.Clock
	lifetime time.Duration
	workers  int
	slots    chan struct{} // shared by SweepAll and scheduled room sweeps

	mu       sync.RWMutex
	observer Observer
}

// New creates a sweeper over the given stores.
func New(messages store.MessageStore, rooms store.RoomRegistry, logger *zerolog.Logger, opts ...Option) *Sweeper {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &Sweeper{
		messages: messages,
		rooms:    rooms,
		log:      logger,
		clock:    clock.New(),
		lifetime: ttl.DefaultLifetime,
		workers:  DefaultWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.slots = make(chan struct{}, s.workers)
	return s
}

// Workers returns the bound on concurrent room sweeps.
func (s *Sweeper) Workers() int {
	return s.workers
}

// sweepBounded runs SweepRoom once a worker slot is free.
func (s *Sweeper) sweepBounded(ctx context.Context, roomID string) (Result, error) {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-s.slots }()
	return s.SweepRoom(ctx, roomID)
}

// Observe registers fn to run after each successful room sweep.
func (s *Sweeper) Observe(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

// SweepRoom deletes every message of roomID whose expiry elapsed, then
// writes the recounted total to the room. Explicit expiries are evaluated
// first; the legacy age rule only sees rows the first pass did not delete.
// On error the returned Result holds what was deleted before the failure.
func (s *Sweeper) SweepRoom(ctx context.Context, roomID string) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	var res Result
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return res, fmt.Errorf("get room: %w", err)
	}

	lifetime := s.lifetime
	if room.Lifetime > 0 {
		lifetime = room.Lifetime
	}

	now := s.clock.Now()
	expired, err := s.messages.ListExpired(ctx, roomID, now)
	if err != nil {
		return res, fmt.Errorf("list expired: %w", err)
	}

	deleted := make(map[string]struct{}, len(expired))
	for _, msg := range expired {
		class := metrics.ClassExpired
		if !ttl.Usable(msg.CreatedAt, msg.ExpiresAt) {
			// An expiry before creation is unusable; the row goes by age.
			if !ttl.Expired(now, msg.CreatedAt, nil, lifetime) {
				continue
			}
			class = metrics.ClassLegacy
		}
		if err := s.messages.DeleteMessage(ctx, roomID, msg.ID); err != nil {
			return res, fmt.Errorf("delete expired %s: %w", msg.ID, err)
		}
		deleted[msg.ID] = struct{}{}
		if class == metrics.ClassLegacy {
			res.StaleDeleted++
		} else {
			res.ExpiredDeleted++
		}
		metrics.SweepDeleted.WithLabelValues(class).Inc()
	}

	legacy, err := s.messages.ListLegacy(ctx, roomID, now.Add(-lifetime))
	if err != nil {
		return res, fmt.Errorf("list legacy: %w", err)
	}
	for _, msg := range legacy {
		if _, done := deleted[msg.ID]; done {
			continue
		}
		if err := s.messages.DeleteMessage(ctx, roomID, msg.ID); err != nil {
			return res, fmt.Errorf("delete legacy %s: %w", msg.ID, err)
		}
		res.StaleDeleted++
		metrics.SweepDeleted.WithLabelValues(metrics.ClassLegacy).Inc()
	}

	// Recount after the deletions above; a concurrent sweep may write a
	// newer value afterwards, which is fine for an advisory counter.
	count, err := s.messages.CountMessages(ctx, roomID)
	if err != nil {
		return res, fmt.Errorf("count messages: %w", err)
	}
	if err := s.rooms.SetMessageCount(ctx, roomID, count); err != nil {
		return res, fmt.Errorf("set message count: %w", err)
	}
	res.RemainingCount = count

	if res.Deleted() > 0 {
		s.log.Info().
			Str("room_id", roomID).
			Int("expired", res.ExpiredDeleted).
			Int("stale", res.StaleDeleted).
			Int64("remaining", res.RemainingCount).
			Msg("room swept")
	} else {
		s.log.Debug().Str("room_id", roomID).Int64("remaining", res.RemainingCount).Msg("room swept, nothing expired")
	}

	s.mu.RLock()
	observer := s.observer
	s.mu.RUnlock()
	if observer != nil {
		observer(ctx, roomID, res)
	}

	return res, nil
}

// SweepAll sweeps every known room with bounded parallelism. A failing room
// is recorded in the report and does not stop the others. The error is
// non-nil only when the room list itself cannot be read.
func (s *Sweeper) SweepAll(ctx context.Context) (Report, error) {
	report := Report{
		Results:  make(map[string]Result),
		Failures: make(map[string]error),
	}

	rooms, err := s.rooms.ListRooms(ctx)
	if err != nil {
		return report, fmt.Errorf("list rooms: %w", err)
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.workers)

	for _, room := range rooms {
		roomID := room.ID
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				report.Failures[roomID] = err
				mu.Unlock()
				return nil
			}

			res, err := s.sweepBounded(ctx, roomID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.SweepFailures.Inc()
				s.log.Warn().Err(err).Str("room_id", roomID).Msg("room sweep failed")
				report.Failures[roomID] = err
				return nil
			}
			report.Results[roomID] = res
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	s.log.Info().
		Int("rooms", len(rooms)).
		Int("failed", len(report.Failures)).
		Msg("sweep finished")

	return report, nil
}

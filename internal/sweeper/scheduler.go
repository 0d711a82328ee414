package sweeper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// DefaultInterval is the period of the recurring sweep.
const DefaultInterval = time.Hour

const triggerBuffer = 64

// Scheduler runs SweepAll on a fixed interval and executes on-demand room
// sweeps requested through Trigger.
type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	clock    clock.Clock
	log      *zerolog.Logger

	trigger chan string
	busy    atomic.Bool
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. A non-positive interval means DefaultInterval.
func NewScheduler(sw *Sweeper, interval time.Duration, c clock.Clock, logger *zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if c == nil {
		c = clock.New()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Scheduler{
		sweeper:  sw,
		interval: interval,
		clock:    c,
		log:      logger,
		trigger:  make(chan string, triggerBuffer),
	}
}

// Trigger queues an asynchronous sweep of roomID. It never blocks; when the
// queue is full the request is dropped and the next scheduled pass covers it.
func (s *Scheduler) Trigger(roomID string) bool {
	select {
	case s.trigger <- roomID:
		return true
	default:
		s.log.Warn().Str("room_id", roomID).Msg("sweep trigger dropped, queue full")
		return false
	}
}

// Run sweeps all rooms immediately and then every interval until ctx is
// cancelled. Triggered sweeps run on a fixed set of workers and share the
// sweeper's concurrency bound with full passes. It waits for in-flight
// sweeps before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("sweep scheduler started")
	for range s.sweeper.Workers() {
		s.wg.Go(func() { s.runTriggers(ctx) })
	}
	s.sweepAll(ctx)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info().Msg("sweep scheduler stopped")
			return nil
		case <-ticker.C:
			s.sweepAll(ctx)
		}
	}
}

// runTriggers executes queued room sweeps until ctx is cancelled.
func (s *Scheduler) runTriggers(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case roomID := <-s.trigger:
			if _, err := s.sweeper.sweepBounded(ctx, roomID); err != nil {
				s.log.Warn().Err(err).Str("room_id", roomID).Msg("on-demand sweep failed")
			}
		}
	}
}

// sweepAll starts a full pass unless the previous one is still running.
func (s *Scheduler) sweepAll(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.log.Debug().Msg("previous sweep still running, skipping tick")
		return
	}
	s.wg.Go(func() {
		defer s.busy.Store(false)
		if _, err := s.sweeper.SweepAll(ctx); err != nil {
			s.log.Warn().Err(err).Msg("scheduled sweep failed")
		}
	})
}

// Package messages implements the server side of the message lifecycle:
// confirmed appends, room snapshot streams and on-demand sweeps.
package messages

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/trekchat/internal/core"
	"github.com/vovakirdan/trekchat/internal/metrics"
	"github.com/vovakirdan/trekchat/internal/store"
	"github.com/vovakirdan/trekchat/internal/sweeper"
	"github.com/vovakirdan/trekchat/internal/ttl"
)

// RoomSweeper sweeps a single room.
type RoomSweeper interface {
	SweepRoom(ctx context.Context, roomID string) (sweeper.Result, error)
}

// Config holds service tunables.
type Config struct {
	DefaultLifetime time.Duration
	MaxTextBytes    int // zero disables the limit
}

// AppendRequest carries one send attempt.
type AppendRequest struct {
	RoomID      string
	AuthorID    string
	AuthorName  string
	AuthorPhoto string
	Text        string
	ClientID    string
}

// Service provides message lifecycle operations.
type Service struct {
	messages store.MessageStore
	rooms    store.RoomRegistry
	hub      *core.Hub
	sweeper  RoomSweeper
	clock    clock.Clock
	cfg      Config
	log      *zerolog.Logger

	publishMu sync.Map // roomID -> *sync.Mutex
}

// New creates a message service. sw may be nil, in which case OpenRoom skips
// the on-demand sweep.
func New(messages store.MessageStore, rooms store.RoomRegistry, hub *core.Hub, sw RoomSweeper, cfg Config, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	cfg.DefaultLifetime = ttl.Lifetime(cfg.DefaultLifetime)
	return &Service{
		messages: messages,
		rooms:    rooms,
		hub:      hub,
		sweeper:  sw,
		clock:    clock.New(),
		cfg:      cfg,
		log:      logger,
	}
}

// WithClock replaces the clock used to stamp snapshots. Intended for tests.
func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

// AppendMessage persists a message and returns the confirmed copy. The
// caller marks its optimistic copy Failed when an error is returned; only
// errors with Retryable() true are worth resending.
func (s *Service) AppendMessage(ctx context.Context, req AppendRequest) (*store.Message, error) {
	msg, err := s.appendMessage(ctx, req)
	if err != nil {
		metrics.AppendFailures.WithLabelValues(core.CodeOf(err)).Inc()
		s.log.Debug().Err(err).Str("room_id", req.RoomID).Str("client_id", req.ClientID).Msg("append failed")
		return nil, err
	}
	metrics.MessagesAppended.Inc()
	return msg, nil
}

func (s *Service) appendMessage(ctx context.Context, req AppendRequest) (*store.Message, error) {
	if req.RoomID == "" {
		return nil, core.BadRequest("room is required")
	}
	if req.AuthorID == "" {
		return nil, core.BadRequest("author is required")
	}
	if s.cfg.MaxTextBytes > 0 && len(req.Text) > s.cfg.MaxTextBytes {
		return nil, core.BadRequest("message too large")
	}

	room, err := s.rooms.GetRoom(ctx, req.RoomID)
	if err != nil {
		return nil, s.roomError(req.RoomID, err)
	}
	member, err := s.rooms.IsMember(ctx, req.RoomID, req.AuthorID)
	if err != nil {
		return nil, core.FromStore("check membership", err)
	}
	if !member {
		return nil, core.PermissionDenied(req.RoomID, req.AuthorID)
	}

	lifetime := room.Lifetime
	if lifetime <= 0 {
		lifetime = s.cfg.DefaultLifetime
	}

	msg := &store.Message{
		ClientID:    req.ClientID,
		RoomID:      req.RoomID,
		AuthorID:    req.AuthorID,
		AuthorName:  req.AuthorName,
		AuthorPhoto: req.AuthorPhoto,
		Text:        req.Text,
	}
	if err := s.messages.Append(ctx, msg, lifetime); err != nil {
		return nil, core.FromStore("append message", err)
	}

	// Best effort: the next sweep rewrites the counter anyway.
	if err := s.rooms.IncrementMessageCount(ctx, req.RoomID); err != nil {
		s.log.Warn().Err(err).Str("room_id", req.RoomID).Msg("failed to increment message count")
	}

	if err := s.Publish(ctx, req.RoomID); err != nil {
		s.log.Warn().Err(err).Str("room_id", req.RoomID).Msg("failed to publish snapshot")
	}

	s.log.Debug().
		Str("room_id", msg.RoomID).
		Str("message_id", msg.ID).
		Str("client_id", msg.ClientID).
		Msg("message appended")
	return msg, nil
}

// Snapshot returns the confirmed messages of a room.
func (s *Service) Snapshot(ctx context.Context, roomID string) (core.Snapshot, error) {
	msgs, err := s.messages.ListMessages(ctx, roomID)
	if err != nil {
		return core.Snapshot{}, core.FromStore("list messages", err)
	}

	snap := core.Snapshot{
		RoomID:   roomID,
		Messages: make([]store.Message, 0, len(msgs)),
		Count:    int64(len(msgs)),
		At:       s.clock.Now(),
	}
	for _, m := range msgs {
		snap.Messages = append(snap.Messages, *m)
	}
	return snap, nil
}

// RoomSnapshot is Snapshot for callers that need a missing room reported as
// an error rather than as an empty list.
func (s *Service) RoomSnapshot(ctx context.Context, roomID string) (core.Snapshot, error) {
	if _, err := s.rooms.GetRoom(ctx, roomID); err != nil {
		return core.Snapshot{}, s.roomError(roomID, err)
	}
	return s.Snapshot(ctx, roomID)
}

// Publish reads a fresh snapshot and delivers it to the room's subscribers.
// Reads and deliveries for one room are serialized so an older snapshot is
// never delivered after a newer one.
func (s *Service) Publish(ctx context.Context, roomID string) error {
	if s.hub.Subscribers(roomID) == 0 {
		return nil
	}

	mu := s.roomLock(roomID)
	mu.Lock()
	defer mu.Unlock()

	snap, err := s.Snapshot(ctx, roomID)
	if err != nil {
		return err
	}
	s.hub.Publish(snap)
	return nil
}

func (s *Service) roomLock(roomID string) *sync.Mutex {
	mu, _ := s.publishMu.LoadOrStore(roomID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// SubscribeRoom streams snapshots of roomID, starting with the current one.
// The subscription closes when ctx is done.
func (s *Service) SubscribeRoom(ctx context.Context, roomID string) (*core.Subscription, error) {
	if _, err := s.rooms.GetRoom(ctx, roomID); err != nil {
		return nil, s.roomError(roomID, err)
	}

	sub := s.hub.Subscribe(roomID)
	metrics.ActiveSubscriptions.Inc()

	mu := s.roomLock(roomID)
	mu.Lock()
	snap, err := s.Snapshot(ctx, roomID)
	if err == nil {
		s.hub.Deliver(sub, snap)
	}
	mu.Unlock()
	if err != nil {
		sub.Close()
		metrics.ActiveSubscriptions.Dec()
		return nil, err
	}

	go func() {
		<-ctx.Done()
		sub.Close()
		metrics.ActiveSubscriptions.Dec()
	}()
	return sub, nil
}

// OpenRoom runs an on-demand sweep and then subscribes. A failed sweep is
// logged and does not prevent the subscription.
func (s *Service) OpenRoom(ctx context.Context, roomID string) (*core.Subscription, error) {
	if s.sweeper != nil {
		if _, err := s.sweeper.SweepRoom(ctx, roomID); err != nil {
			s.log.Warn().Err(err).Str("room_id", roomID).Msg("on-demand sweep failed")
		}
	}
	return s.SubscribeRoom(ctx, roomID)
}

// RoomSwept republishes a room after a sweep removed messages. It matches
// sweeper.Observer.
func (s *Service) RoomSwept(ctx context.Context, roomID string, res sweeper.Result) {
	if res.Deleted() == 0 {
		return
	}
	if err := s.Publish(ctx, roomID); err != nil {
		s.log.Warn().Err(err).Str("room_id", roomID).Msg("failed to publish snapshot after sweep")
	}
}

func (s *Service) roomError(roomID string, err error) error {
	ce := core.FromStore("get room", err)
	if ce.Code == core.ErrCodeRoomNotFound {
		return core.NotFound(roomID)
	}
	return ce
}

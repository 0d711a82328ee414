// Package redis stores room messages in Redis: one hash of JSON documents per
// room, indexed by two sorted sets scored by creation and expiry instants.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/trekchat/internal/store"
	"github.com/vovakirdan/trekchat/internal/ttl"
)

// MessageStore implements store.MessageStore on Redis.
type MessageStore struct {
	client *goredis.Client
	clock  clock.Clock
	log    *zerolog.Logger
}

// Option configures a MessageStore.
type Option func(*MessageStore)

// WithClock sets the clock used to stamp CreatedAt.
func WithClock(c clock.Clock) Option {
	return func(s *MessageStore) {
		s.clock = c
	}
}

// WithLogger sets the logger used to report corrupt documents.
func WithLogger(logger *zerolog.Logger) Option {
	return func(s *MessageStore) {
		s.log = logger
	}
}

// New connects to redisURL and verifies the connection.
func New(ctx context.Context, redisURL string, opts ...Option) (*MessageStore, error) {
	parsed, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := goredis.NewClient(parsed)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", classify(err))
	}

	return NewWithClient(client, opts...), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, opts ...Option) *MessageStore {
	nop := zerolog.Nop()
	s := &MessageStore{client: client, clock: clock.New(), log: &nop}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the Redis connection.
func (s *MessageStore) Close() error {
	return s.client.Close()
}

func docsKey(roomID string) string {
	return fmt.Sprintf("room:%s:messages", roomID)
}

func createdKey(roomID string) string {
	return fmt.Sprintf("room:%s:created", roomID)
}

func expiryKey(roomID string) string {
	return fmt.Sprintf("room:%s:expiry", roomID)
}

// document is the JSON form kept in the per-room hash.
type document struct {
	ID          string `json:"id"`
	ClientID    string `json:"cid,omitempty"`
	RoomID      string `json:"room_id"`
	AuthorID    string `json:"author_id"`
	AuthorName  string `json:"author_name,omitempty"`
	AuthorPhoto string `json:"author_photo,omitempty"`
	Text        string `json:"text"`
	CreatedAt   int64  `json:"ts"`            // unix ms
	ExpiresAt   *int64 `json:"exp,omitempty"` // unix ms, absent for legacy rows
}

func toDocument(msg *store.Message) document {
	doc := document{
		ID:          msg.ID,
		ClientID:    msg.ClientID,
		RoomID:      msg.RoomID,
		AuthorID:    msg.AuthorID,
		AuthorName:  msg.AuthorName,
		AuthorPhoto: msg.AuthorPhoto,
		Text:        msg.Text,
		CreatedAt:   msg.CreatedAt.UnixMilli(),
	}
	if msg.ExpiresAt != nil {
		exp := msg.ExpiresAt.UnixMilli()
		doc.ExpiresAt = &exp
	}
	return doc
}

func (d document) message() *store.Message {
	msg := &store.Message{
		ID:          d.ID,
		ClientID:    d.ClientID,
		RoomID:      d.RoomID,
		AuthorID:    d.AuthorID,
		AuthorName:  d.AuthorName,
		AuthorPhoto: d.AuthorPhoto,
		Text:        d.Text,
		CreatedAt:   time.UnixMilli(d.CreatedAt).UTC(),
		State:       store.StateConfirmed,
	}
	if d.ExpiresAt != nil {
		exp := time.UnixMilli(*d.ExpiresAt).UTC()
		msg.ExpiresAt = &exp
	}
	return msg
}

// Append stores msg, assigning ID, CreatedAt and ExpiresAt.
func (s *MessageStore) Append(ctx context.Context, msg *store.Message, lifetime time.Duration) error {
	createdAt := s.clock.Now().UTC().Truncate(time.Millisecond)
	expiresAt := ttl.ExpiresAt(createdAt, lifetime)

	stored := *msg
	stored.ID = uuid.NewString()
	stored.CreatedAt = createdAt
	stored.ExpiresAt = &expiresAt

	if err := s.write(ctx, &stored); err != nil {
		return err
	}

	msg.ID = stored.ID
	msg.CreatedAt = createdAt
	msg.ExpiresAt = &expiresAt
	msg.State = store.StateConfirmed
	return nil
}

// Import stores msg as given, keeping its ID and timestamps.
func (s *MessageStore) Import(ctx context.Context, msg *store.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return s.write(ctx, msg)
}

func (s *MessageStore) write(ctx context.Context, msg *store.Message) error {
	doc := toDocument(msg)
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, docsKey(msg.RoomID), doc.ID, data)
		pipe.ZAdd(ctx, createdKey(msg.RoomID), goredis.Z{Score: float64(doc.CreatedAt), Member: doc.ID})
		if doc.ExpiresAt != nil {
			pipe.ZAdd(ctx, expiryKey(msg.RoomID), goredis.Z{Score: float64(*doc.ExpiresAt), Member: doc.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append message: %w", classify(err))
	}
	return nil
}

// ListMessages returns messages ordered by CreatedAt ascending.
func (s *MessageStore) ListMessages(ctx context.Context, roomID string) ([]*store.Message, error) {
	ids, err := s.client.ZRange(ctx, createdKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", classify(err))
	}
	return s.load(ctx, roomID, ids)
}

// ListExpired returns messages whose expiry score is not after before.
func (s *MessageStore) ListExpired(ctx context.Context, roomID string, before time.Time) ([]*store.Message, error) {
	ids, err := s.client.ZRangeByScore(ctx, expiryKey(roomID), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired messages: %w", classify(err))
	}
	return s.load(ctx, roomID, ids)
}

// ListLegacy returns messages without an expiry created not after before.
func (s *MessageStore) ListLegacy(ctx context.Context, roomID string, before time.Time) ([]*store.Message, error) {
	ids, err := s.client.ZRangeByScore(ctx, createdKey(roomID), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list legacy messages: %w", classify(err))
	}

	msgs, err := s.load(ctx, roomID, ids)
	if err != nil {
		return nil, err
	}
	legacy := msgs[:0]
	for _, m := range msgs {
		if m.ExpiresAt == nil {
			legacy = append(legacy, m)
		}
	}
	return legacy, nil
}

// load fetches documents for ids, preserving order and skipping ids whose
// document vanished concurrently. Undecodable documents are deleted so they
// stop counting towards the room total.
func (s *MessageStore) load(ctx context.Context, roomID string, ids []string) ([]*store.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := s.client.HMGet(ctx, docsKey(roomID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", classify(err))
	}

	messages := make([]*store.Message, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var doc document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			s.log.Warn().Err(err).Str("room_id", roomID).Str("message_id", ids[i]).Msg("dropping corrupt message document")
			if err := s.DeleteMessage(ctx, roomID, ids[i]); err != nil {
				return nil, err
			}
			continue
		}
		messages = append(messages, doc.message())
	}
	return messages, nil
}

// DeleteMessage removes a message and its index entries; missing ids are ignored.
func (s *MessageStore) DeleteMessage(ctx context.Context, roomID, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HDel(ctx, docsKey(roomID), id)
		pipe.ZRem(ctx, createdKey(roomID), id)
		pipe.ZRem(ctx, expiryKey(roomID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", classify(err))
	}
	return nil
}

// CountMessages returns the number of stored messages in a room.
func (s *MessageStore) CountMessages(ctx context.Context, roomID string) (int64, error) {
	n, err := s.client.HLen(ctx, docsKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", classify(err))
	}
	return n, nil
}

// classify marks network failures and timeouts as transient.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}

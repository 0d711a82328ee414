package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/trekchat/internal/store"
	"github.com/vovakirdan/trekchat/internal/ttl"
	"github.com/vovakirdan/trekchat/internal/utils"
)

// Schema creates the tables used by the store. Instants are stored as unix
// milliseconds so range predicates compare numerically.
const Schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE,
	description   TEXT NOT NULL DEFAULT '',
	lifetime_ms   INTEGER NOT NULL DEFAULT 0,
	message_count INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS room_members (
	room_id   TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	joined_at INTEGER NOT NULL,
	PRIMARY KEY (room_id, user_id),
	FOREIGN KEY (room_id) REFERENCES rooms(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	client_id    TEXT NOT NULL DEFAULT '',
	room_id      TEXT NOT NULL,
	author_id    TEXT NOT NULL,
	author_name  TEXT NOT NULL DEFAULT '',
	author_photo TEXT NOT NULL DEFAULT '',
	text         TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	expires_at   INTEGER,
	FOREIGN KEY (room_id) REFERENCES rooms(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_room_expires ON messages(room_id, expires_at);
CREATE INDEX IF NOT EXISTS idx_room_members_user ON room_members(user_id);
`

// ApplySchema runs Schema against db.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock sets the clock used to stamp CreatedAt and UpdatedAt.
func WithClock(c clock.Clock) Option {
	return func(s *SQLiteStore) {
		s.clock = c
	}
}

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db    *sql.DB
	clock clock.Clock
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string, opts ...Option) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema, opts...)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema or seed rows.
func NewWithSetup(dbPath string, setup func(*sql.DB) error, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, clock: clock.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// classify marks busy/locked databases and deadlines as transient and
// unique violations as conflicts.
func classify(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%s: %w: %v", op, store.ErrConflict, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// ==== RoomRegistry implementation ====

// CreateRoom creates a new room.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name, description string, lifetime time.Duration) (*store.Room, error) {
	query := `
		INSERT INTO rooms (id, name, description, lifetime_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	id := utils.NewID()
	now := toMillis(s.clock.Now())
	if _, err := s.db.ExecContext(ctx, query, id, name, description, ttl.Lifetime(lifetime).Milliseconds(), now, now); err != nil {
		return nil, classify("insert room", err)
	}

	return s.GetRoom(ctx, id)
}

const roomColumns = `
	r.id, r.name, r.description, r.lifetime_ms, r.message_count, r.created_at, r.updated_at,
	(SELECT COUNT(*) FROM room_members rm WHERE rm.room_id = r.id)
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*store.Room, error) {
	var room store.Room
	var lifetimeMS, createdAt, updatedAt int64
	if err := row.Scan(
		&room.ID,
		&room.Name,
		&room.Description,
		&lifetimeMS,
		&room.MessageCount,
		&createdAt,
		&updatedAt,
		&room.MemberCount,
	); err != nil {
		return nil, err
	}
	room.Lifetime = time.Duration(lifetimeMS) * time.Millisecond
	room.CreatedAt = fromMillis(createdAt)
	room.UpdatedAt = fromMillis(updatedAt)
	return &room, nil
}

// GetRoom retrieves a room by ID together with its members.
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*store.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms r WHERE r.id = ?`

	room, err := scanRoom(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %s: %w", id, store.ErrNotFound)
		}
		return nil, classify("query room", err)
	}

	members, err := s.ListMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	room.Members = members

	return room, nil
}

// ListRooms lists all rooms, oldest first.
func (s *SQLiteStore) ListRooms(ctx context.Context) ([]*store.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms r ORDER BY r.created_at ASC, r.id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify("query rooms", err)
	}
	defer rows.Close()

	var rooms []*store.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

// AddMember adds a user to a room.
func (s *SQLiteStore) AddMember(ctx context.Context, roomID, userID string) error {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return err
	}

	query := `
		INSERT OR IGNORE INTO room_members (room_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, roomID, userID, toMillis(s.clock.Now())); err != nil {
		return classify("insert room member", err)
	}

	return nil
}

// IsMember checks if user is a member of the room.
func (s *SQLiteStore) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	query := `
		SELECT 1 FROM room_members
		WHERE room_id = ? AND user_id = ?
	`
	var exists int
	err := s.db.QueryRowContext(ctx, query, roomID, userID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, classify("query membership", err)
	}

	return true, nil
}

// ListMembers lists all members of a room in join order.
func (s *SQLiteStore) ListMembers(ctx context.Context, roomID string) ([]string, error) {
	query := `
		SELECT user_id FROM room_members
		WHERE room_id = ?
		ORDER BY joined_at ASC, user_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, classify("query members", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, userID)
	}

	return members, rows.Err()
}

// IncrementMessageCount bumps the advisory counter after an append.
func (s *SQLiteStore) IncrementMessageCount(ctx context.Context, id string) error {
	query := `
		UPDATE rooms
		SET message_count = message_count + 1, updated_at = ?
		WHERE id = ?
	`
	return s.updateRoom(ctx, "increment message count", query, toMillis(s.clock.Now()), id)
}

// SetMessageCount overwrites the counter with an authoritative value.
// Concurrent writers resolve last-writer-wins.
func (s *SQLiteStore) SetMessageCount(ctx context.Context, id string, n int64) error {
	if n < 0 {
		n = 0
	}
	query := `
		UPDATE rooms
		SET message_count = ?, updated_at = ?
		WHERE id = ?
	`
	return s.updateRoom(ctx, "set message count", query, n, toMillis(s.clock.Now()), id)
}

func (s *SQLiteStore) updateRoom(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	return nil
}

// ==== MessageStore implementation ====

const messageColumns = `id, client_id, room_id, author_id, author_name, author_photo, text, created_at, expires_at`

func scanMessages(rows *sql.Rows) ([]*store.Message, error) {
	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		var createdAt int64
		var expiresAt sql.NullInt64
		if err := rows.Scan(
			&msg.ID,
			&msg.ClientID,
			&msg.RoomID,
			&msg.AuthorID,
			&msg.AuthorName,
			&msg.AuthorPhoto,
			&msg.Text,
			&createdAt,
			&expiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = fromMillis(createdAt)
		if expiresAt.Valid {
			exp := fromMillis(expiresAt.Int64)
			msg.ExpiresAt = &exp
		}
		msg.State = store.StateConfirmed
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// Append persists a message, assigning ID, CreatedAt and ExpiresAt.
func (s *SQLiteStore) Append(ctx context.Context, msg *store.Message, lifetime time.Duration) error {
	createdAt := s.clock.Now().UTC().Truncate(time.Millisecond)
	expiresAt := ttl.ExpiresAt(createdAt, lifetime)
	id := utils.NewID()

	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		id, msg.ClientID, msg.RoomID, msg.AuthorID, msg.AuthorName, msg.AuthorPhoto, msg.Text,
		toMillis(createdAt), toMillis(expiresAt),
	); err != nil {
		return classify("insert message", err)
	}

	msg.ID = id
	msg.CreatedAt = createdAt
	msg.ExpiresAt = &expiresAt
	msg.State = store.StateConfirmed
	return nil
}

// Import persists msg as given, keeping its ID and timestamps. A nil
// ExpiresAt is stored as NULL, which is how legacy rows look.
func (s *SQLiteStore) Import(ctx context.Context, msg *store.Message) error {
	if msg.ID == "" {
		msg.ID = utils.NewID()
	}
	var expiresAt sql.NullInt64
	if msg.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: toMillis(*msg.ExpiresAt), Valid: true}
	}

	query := `
		INSERT OR IGNORE INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ClientID, msg.RoomID, msg.AuthorID, msg.AuthorName, msg.AuthorPhoto, msg.Text,
		toMillis(msg.CreatedAt), expiresAt,
	); err != nil {
		return classify("import message", err)
	}
	return nil
}

// ListMessages returns the messages of a room ordered by CreatedAt ascending.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID string) ([]*store.Message, error) {
	return s.queryMessages(ctx, "query messages", `
		SELECT `+messageColumns+`
		FROM messages
		WHERE room_id = ?
		ORDER BY created_at ASC, id ASC
	`, roomID)
}

// ListExpired returns messages with an explicit expiry not after before.
func (s *SQLiteStore) ListExpired(ctx context.Context, roomID string, before time.Time) ([]*store.Message, error) {
	return s.queryMessages(ctx, "query expired messages", `
		SELECT `+messageColumns+`
		FROM messages
		WHERE room_id = ? AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY created_at ASC, id ASC
	`, roomID, toMillis(before))
}

// ListLegacy returns messages without an expiry created not after before.
func (s *SQLiteStore) ListLegacy(ctx context.Context, roomID string, before time.Time) ([]*store.Message, error) {
	return s.queryMessages(ctx, "query legacy messages", `
		SELECT `+messageColumns+`
		FROM messages
		WHERE room_id = ? AND expires_at IS NULL AND created_at <= ?
		ORDER BY created_at ASC, id ASC
	`, roomID, toMillis(before))
}

func (s *SQLiteStore) queryMessages(ctx context.Context, op, query string, args ...any) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, strings.TrimSpace(query), args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// DeleteMessage removes a message; a missing row is not an error.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, roomID, id string) error {
	query := `DELETE FROM messages WHERE room_id = ? AND id = ?`
	if _, err := s.db.ExecContext(ctx, query, roomID, id); err != nil {
		return classify("delete message", err)
	}
	return nil
}

// CountMessages returns the number of stored messages in a room.
func (s *SQLiteStore) CountMessages(ctx context.Context, roomID string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE room_id = ?`, roomID).Scan(&n); err != nil {
		return 0, classify("count messages", err)
	}
	return n, nil
}

package proto

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vovakirdan/trekchat/internal/core"
	"github.com/vovakirdan/trekchat/internal/store"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeMsg = "msg"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventSnapshot = "snapshot"
	EventAck      = "ack"
)

// MsgData is a chat message sent over an open room stream.
type MsgData struct {
	Text     string `json:"text"`
	ClientID string `json:"client_id,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Message is the wire form of a confirmed message. Times are unix millis.
type Message struct {
	ID          string `json:"id"`
	ClientID    string `json:"client_id,omitempty"`
	RoomID      string `json:"room_id"`
	AuthorID    string `json:"author_id"`
	AuthorName  string `json:"author_name,omitempty"`
	AuthorPhoto string `json:"author_photo,omitempty"`
	Text        string `json:"text"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
}

// Snapshot is the full confirmed state of a room.
type Snapshot struct {
	Room     string    `json:"room"`
	Count    int64     `json:"count"`
	TS       int64     `json:"ts"`
	Messages []Message `json:"messages"`
}

// Ack confirms a message sent over the stream.
type Ack struct {
	ClientID string  `json:"client_id,omitempty"`
	Message  Message `json:"message"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code      string `json:"code"`
	Msg       string `json:"msg"`
	ClientID  string `json:"client_id,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// FromMessage converts a stored message to its wire form.
func FromMessage(m *store.Message) Message {
	out := Message{
		ID:          m.ID,
		ClientID:    m.ClientID,
		RoomID:      m.RoomID,
		AuthorID:    m.AuthorID,
		AuthorName:  m.AuthorName,
		AuthorPhoto: m.AuthorPhoto,
		Text:        m.Text,
		CreatedAt:   millis(m.CreatedAt),
	}
	if m.ExpiresAt != nil {
		out.ExpiresAt = millis(*m.ExpiresAt)
	}
	return out
}

// ToMessage converts a wire message back to a confirmed store message.
func ToMessage(m Message) store.Message {
	out := store.Message{
		ID:          m.ID,
		ClientID:    m.ClientID,
		RoomID:      m.RoomID,
		AuthorID:    m.AuthorID,
		AuthorName:  m.AuthorName,
		AuthorPhoto: m.AuthorPhoto,
		Text:        m.Text,
		State:       store.StateConfirmed,
	}
	if m.CreatedAt != 0 {
		out.CreatedAt = time.UnixMilli(m.CreatedAt).UTC()
	}
	if m.ExpiresAt != 0 {
		exp := time.UnixMilli(m.ExpiresAt).UTC()
		out.ExpiresAt = &exp
	}
	return out
}

// FromSnapshot converts a hub snapshot to its wire form.
func FromSnapshot(snap core.Snapshot) Snapshot {
	out := Snapshot{
		Room:     snap.RoomID,
		Count:    snap.Count,
		TS:       millis(snap.At),
		Messages: make([]Message, 0, len(snap.Messages)),
	}
	for i := range snap.Messages {
		out.Messages = append(out.Messages, FromMessage(&snap.Messages[i]))
	}
	return out
}

// ErrorFrom builds a protocol error from a domain error.
func ErrorFrom(err error, clientID string) *Error {
	e := &Error{Code: core.CodeOf(err), Msg: err.Error(), ClientID: clientID}
	var ce *core.CoreError
	if errors.As(err, &ce) {
		e.Msg = ce.Message
		e.Retryable = ce.Retryable()
	}
	return e
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

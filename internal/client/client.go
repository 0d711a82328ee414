// Package client is a room stream client that keeps optimistic local sends
// merged with the server's confirmed snapshots.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/trekchat/internal/proto"
	"github.com/vovakirdan/trekchat/internal/reconcile"
	"github.com/vovakirdan/trekchat/internal/store"
)

// ErrUnknownMessage is returned by Retry for a client ID that is not Failed.
var ErrUnknownMessage = errors.New("no failed message with this client id")

// Identity is who the client posts as.
type Identity struct {
	UserID string
	Name   string
	Token  string // bearer token, used instead of UserID when set
}

// Options tune the local cache and the merge.
type Options struct {
	PendingTimeout time.Duration
	DedupBucket    time.Duration
	Clock          clock.Clock
	Logger         *zerolog.Logger
}

// Client streams one room.
type Client struct {
	conn   *websocket.Conn
	roomID string
	ident  Identity
	cache  *reconcile.Cache
	rec    reconcile.Reconciler
	log    *zerolog.Logger

	mu        sync.Mutex
	confirmed []store.Message
	acked     map[string]store.Message // acknowledged, not yet seen in a snapshot

	updates chan struct{}
}

// Dial opens the stream of roomID on the server at baseURL (http or ws scheme).
func Dial(ctx context.Context, baseURL, roomID string, ident Identity, opts Options) (*Client, error) {
	u, err := streamURL(baseURL, roomID, ident)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial room %s: %w", roomID, err)
	}

	c := newClient(roomID, ident, opts)
	c.conn = conn
	return c, nil
}

func newClient(roomID string, ident Identity, opts Options) *Client {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}

	c := &Client{
		roomID:  roomID,
		ident:   ident,
		rec:     reconcile.Reconciler{DedupBucket: opts.DedupBucket, Now: opts.Clock.Now},
		log:     opts.Logger,
		acked:   make(map[string]store.Message),
		updates: make(chan struct{}, 1),
	}
	cacheOpts := []reconcile.CacheOption{
		reconcile.WithClock(opts.Clock),
		reconcile.WithStaleHook(func(msg store.Message) {
			c.log.Debug().Str("client_id", msg.ClientID).Msg("pending message went stale")
			c.notify()
		}),
	}
	if opts.PendingTimeout > 0 {
		cacheOpts = append(cacheOpts, reconcile.WithPendingTimeout(opts.PendingTimeout))
	}
	c.cache = reconcile.NewCache(cacheOpts...)
	return c
}

func streamURL(baseURL, roomID string, ident Identity) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u = u.JoinPath("ws", "rooms", roomID)
	q := url.Values{}
	if ident.Token != "" {
		q.Set("token", ident.Token)
	} else {
		q.Set("user_id", ident.UserID)
		if ident.Name != "" {
			q.Set("user_name", ident.Name)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Updates signals that View may have changed. Signals coalesce.
func (c *Client) Updates() <-chan struct{} {
	return c.updates
}

func (c *Client) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// Send records text as Pending and sends it. A write failure marks the
// local copy Failed and is returned; the copy stays visible either way.
func (c *Client) Send(ctx context.Context, text string) (store.Message, error) {
	msg := c.cache.Add(store.Message{
		RoomID:     c.roomID,
		AuthorID:   c.ident.UserID,
		AuthorName: c.ident.Name,
		Text:       text,
	})
	c.notify()
	return msg, c.write(ctx, msg)
}

// Retry resends a Failed message under a fresh client ID.
func (c *Client) Retry(ctx context.Context, clientID string) (store.Message, error) {
	msg, ok := c.cache.Retry(clientID)
	if !ok {
		return store.Message{}, ErrUnknownMessage
	}
	c.notify()
	return msg, c.write(ctx, msg)
}

// Discard drops a local message.
func (c *Client) Discard(clientID string) {
	c.cache.Discard(clientID)
	c.notify()
}

func (c *Client) write(ctx context.Context, msg store.Message) error {
	payload, err := json.Marshal(proto.MsgData{Text: msg.Text, ClientID: msg.ClientID})
	if err != nil {
		return err
	}
	if err := wsjson.Write(ctx, c.conn, proto.Inbound{Type: proto.InboundTypeMsg, Data: payload}); err != nil {
		c.cache.MarkFailed(msg.ClientID, err.Error())
		c.notify()
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Run reads the stream until ctx is done or the connection closes.
func (c *Client) Run(ctx context.Context) error {
	for {
		var out struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, c.conn, &out); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		switch {
		case out.Type == proto.OutboundTypeError && out.Error != nil:
			c.handleError(out.Error)
		case out.Event == proto.EventSnapshot:
			var snap proto.Snapshot
			if err := json.Unmarshal(out.Data, &snap); err != nil {
				c.log.Warn().Err(err).Msg("bad snapshot frame")
				continue
			}
			c.handleSnapshot(snap)
		case out.Event == proto.EventAck:
			var ack proto.Ack
			if err := json.Unmarshal(out.Data, &ack); err != nil {
				c.log.Warn().Err(err).Msg("bad ack frame")
				continue
			}
			c.handleAck(ack)
		default:
			continue
		}
		c.notify()
	}
}

// handleSnapshot replaces the confirmed list. Snapshots and acks travel on
// different paths, so a snapshot may predate an ack that already arrived;
// acked messages stay until a snapshot carries them or they have expired.
func (c *Client) handleSnapshot(snap proto.Snapshot) {
	at := time.UnixMilli(snap.TS)
	confirmed := make([]store.Message, 0, len(snap.Messages))
	seen := make(map[string]struct{}, len(snap.Messages))
	for _, m := range snap.Messages {
		confirmed = append(confirmed, proto.ToMessage(m))
		seen[m.ID] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed = confirmed
	for id, m := range c.acked {
		if _, ok := seen[id]; ok {
			delete(c.acked, id)
			continue
		}
		if m.ExpiresAt != nil && !at.Before(*m.ExpiresAt) {
			delete(c.acked, id)
		}
	}
}

func (c *Client) handleAck(ack proto.Ack) {
	msg := proto.ToMessage(ack.Message)
	c.mu.Lock()
	if msg.ID != "" {
		c.acked[msg.ID] = msg
	}
	c.mu.Unlock()
	c.cache.Confirm(ack.ClientID)
}

func (c *Client) handleError(e *proto.Error) {
	if e.ClientID == "" {
		c.log.Warn().Str("code", e.Code).Str("msg", e.Msg).Msg("stream error")
		return
	}
	c.cache.MarkFailed(e.ClientID, e.Msg)
}

// View returns confirmed and local messages merged and ordered.
func (c *Client) View() []store.Message {
	c.mu.Lock()
	confirmed := make([]store.Message, len(c.confirmed), len(c.confirmed)+len(c.acked))
	copy(confirmed, c.confirmed)
	for _, m := range c.acked {
		confirmed = append(confirmed, m)
	}
	c.mu.Unlock()

	return c.rec.Reconcile(confirmed, c.cache.List(c.roomID))
}

// TimeOf returns the instant m is ordered by in View.
func (c *Client) TimeOf(m store.Message) time.Time {
	return c.rec.EffectiveTime(m)
}

// Groups returns View bucketed by calendar day in loc.
func (c *Client) Groups(loc *time.Location) []reconcile.DateGroup {
	return c.rec.Group(c.View(), loc)
}

// Close stops local timers and closes the connection.
func (c *Client) Close() error {
	c.cache.Close()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

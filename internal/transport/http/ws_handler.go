package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/trekchat/internal/auth"
	"github.com/vovakirdan/trekchat/internal/core"
	"github.com/vovakirdan/trekchat/internal/proto"
	"github.com/vovakirdan/trekchat/internal/service/messages"
)

// WSHandler upgrades HTTP connections into room snapshot streams. It is
// served from a plain ServeMux since upgrades need an unwritten
// http.ResponseWriter to hijack.
type WSHandler struct {
	svc         *messages.Service
	jwt         *auth.JWTConfig
	messageRate int
	log         *zerolog.Logger

	mu      sync.Mutex
	streams sync.WaitGroup
	closed  bool
	base    context.Context
	stopAll context.CancelFunc
}

// NewWSHandler builds a new WebSocket handler. messageRate limits inbound
// messages per connection per minute; zero disables the limit.
func NewWSHandler(svc *messages.Service, jwtCfg *auth.JWTConfig, messageRate int, logger *zerolog.Logger) *WSHandler {
	base, stopAll := context.WithCancel(context.Background())
	return &WSHandler{
		svc:         svc,
		jwt:         jwtCfg,
		messageRate: messageRate,
		log:         logger,
		base:        base,
		stopAll:     stopAll,
	}
}

// ServeHTTP opens a room: it sweeps it, subscribes, and streams snapshots
// until either side closes. Clients may send messages over the same
// connection.
// GET /ws/rooms/{id}
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ident, err := resolveIdentity(r, h.jwt)
	if err != nil {
		h.log.Debug().Err(err).Str("path", r.URL.Path).Msg("unauthenticated stream")
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: unauthorizedMessage(err)})
		return
	}
	roomID := r.PathValue("id")

	if !h.track() {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "server is shutting down", Retryable: true})
		return
	}
	defer h.streams.Done()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before upgrading so a missing room is a plain HTTP error.
	sub, err := h.svc.OpenRoom(ctx, roomID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	defer sub.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	// Hijacked connections outlive the request context on shutdown, so
	// closing the handler ends the stream with a close handshake.
	stop := context.AfterFunc(h.base, func() {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	})
	defer stop()

	h.log.Debug().Str("room_id", roomID).Str("user_id", ident.UserID).Str("subscription_id", sub.ID).Msg("room stream opened")

	limiter := newRateLimiter(h.messageRate, nil)

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, ident, roomID, limiter)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, sub)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("room_id", roomID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.streams.Add(1)
	return true
}

// Close ends every open stream and waits for their handlers to return, or
// for ctx to be done. New upgrades are refused afterwards.
func (h *WSHandler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.stopAll()

	done := make(chan struct{})
	go func() {
		h.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, ident Identity, roomID string, limiter *rateLimiter) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		req, protoErr, err := inboundToAppend(ident, roomID, inbound)
		if err != nil {
			h.log.Warn().Err(err).Str("user_id", ident.UserID).Msg("failed to map inbound")
			return err
		}
		if protoErr == nil && !limiter.allow() {
			protoErr = &proto.Error{Code: "rate_limited", Msg: "too many messages", ClientID: req.ClientID, Retryable: true}
		}
		if protoErr != nil {
			if err := wsjson.Write(ctx, conn, outboundError(protoErr)); err != nil {
				return err
			}
			continue
		}

		msg, err := h.svc.AppendMessage(ctx, *req)
		if err != nil {
			if err := wsjson.Write(ctx, conn, outboundError(proto.ErrorFrom(err, req.ClientID))); err != nil {
				return err
			}
			continue
		}
		if err := wsjson.Write(ctx, conn, outboundAck(msg)); err != nil {
			return err
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *core.Subscription) error {
	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromSnapshot(snap)); err != nil {
				h.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("write ws snapshot")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

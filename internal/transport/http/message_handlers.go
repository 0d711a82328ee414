package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/trekchat/internal/core"
	"github.com/vovakirdan/trekchat/internal/proto"
	"github.com/vovakirdan/trekchat/internal/service/messages"
)

// MessageHandlers serves confirmed messages over REST.
type MessageHandlers struct {
	svc *messages.Service
	log *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(svc *messages.Service, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{svc: svc, log: logger}
}

// PostMessageRequest represents a send attempt.
type PostMessageRequest struct {
	Text     string `json:"text"`
	ClientID string `json:"client_id"`
}

// ListMessages returns the current snapshot of a room.
// GET /api/rooms/:id/messages
func (h *MessageHandlers) ListMessages(c *gin.Context) {
	snap, err := h.svc.RoomSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, proto.FromSnapshot(snap))
}

// PostMessage appends a message authored by the caller.
// POST /api/rooms/:id/messages
func (h *MessageHandlers) PostMessage(c *gin.Context) {
	ident, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid post message request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}

	msg, err := h.svc.AppendMessage(c.Request.Context(), messages.AppendRequest{
		RoomID:      c.Param("id"),
		AuthorID:    ident.UserID,
		AuthorName:  ident.Name,
		AuthorPhoto: ident.Photo,
		Text:        req.Text,
		ClientID:    req.ClientID,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, proto.FromMessage(msg))
}

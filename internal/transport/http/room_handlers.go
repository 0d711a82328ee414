package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/trekchat/internal/core"
	"github.com/vovakirdan/trekchat/internal/store"
)

// RoomHandlers provides HTTP handlers for room management endpoints.
type RoomHandlers struct {
	rooms           store.RoomRegistry
	defaultLifetime time.Duration
	log             *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(rooms store.RoomRegistry, defaultLifetime time.Duration, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		rooms:           rooms,
		defaultLifetime: defaultLifetime,
		log:             logger,
	}
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	Name            string `json:"name" binding:"required,min=1,max=64"`
	Description     string `json:"description" binding:"max=512"`
	LifetimeSeconds int64  `json:"lifetime_seconds" binding:"gte=0"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	LifetimeSeconds int64    `json:"lifetime_seconds"`
	MemberCount     int64    `json:"member_count"`
	MessageCount    int64    `json:"message_count"`
	Members         []string `json:"members,omitempty"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

func roomResponse(room *store.Room) RoomResponse {
	return RoomResponse{
		ID:              room.ID,
		Name:            room.Name,
		Description:     room.Description,
		LifetimeSeconds: int64(room.Lifetime / time.Second),
		MemberCount:     room.MemberCount,
		MessageCount:    room.MessageCount,
		Members:         room.Members,
		CreatedAt:       room.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       room.UpdatedAt.Format(time.RFC3339),
	}
}

// CreateRoom handles room creation. The caller becomes the first member.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	ident, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}

	lifetime := time.Duration(req.LifetimeSeconds) * time.Second
	if lifetime == 0 {
		lifetime = h.defaultLifetime
	}

	ctx := c.Request.Context()
	room, err := h.rooms.CreateRoom(ctx, req.Name, req.Description, lifetime)
	if err != nil {
		ce := core.FromStore("create room", err)
		if ce.Code == core.ErrCodeConflict {
			ce.Message = "room with this name already exists"
		}
		respondError(c, h.log, ce)
		return
	}
	if err := h.rooms.AddMember(ctx, room.ID, ident.UserID); err != nil {
		respondError(c, h.log, core.FromStore("add creator", err))
		return
	}
	roomID := room.ID
	if room, err = h.rooms.GetRoom(ctx, roomID); err != nil {
		respondError(c, h.log, roomErr(roomID, err))
		return
	}

	h.log.Info().Str("room_name", room.Name).Str("room_id", room.ID).Str("owner_id", ident.UserID).Msg("room created successfully")
	c.JSON(http.StatusCreated, roomResponse(room))
}

// ListRooms handles listing all rooms.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListRooms(c.Request.Context())
	if err != nil {
		respondError(c, h.log, core.FromStore("list rooms", err))
		return
	}

	response := make([]RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		response = append(response, roomResponse(room))
	}

	h.log.Debug().Int("room_count", len(rooms)).Msg("rooms listed successfully")
	c.JSON(http.StatusOK, response)
}

// GetRoom returns a room with its members and counters.
// GET /api/rooms/:id
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	roomID := c.Param("id")
	room, err := h.rooms.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		respondError(c, h.log, roomErr(roomID, err))
		return
	}
	c.JSON(http.StatusOK, roomResponse(room))
}

// JoinRoom adds the caller to a room.
// POST /api/rooms/:id/members
func (h *RoomHandlers) JoinRoom(c *gin.Context) {
	ident, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	roomID := c.Param("id")
	ctx := c.Request.Context()
	if err := h.rooms.AddMember(ctx, roomID, ident.UserID); err != nil {
		respondError(c, h.log, roomErr(roomID, err))
		return
	}
	room, err := h.rooms.GetRoom(ctx, roomID)
	if err != nil {
		respondError(c, h.log, roomErr(roomID, err))
		return
	}

	h.log.Info().Str("room_id", roomID).Str("user_id", ident.UserID).Msg("user joined room")
	c.JSON(http.StatusOK, roomResponse(room))
}

// roomErr maps store errors for roomID, naming the room when it is missing.
func roomErr(roomID string, err error) *core.CoreError {
	ce := core.FromStore("room "+roomID, err)
	if ce.Code == core.ErrCodeRoomNotFound {
		return core.NotFound(roomID)
	}
	return ce
}

package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/trekchat/internal/sweeper"
)

// SweepHandlers exposes on-demand sweeps.
type SweepHandlers struct {
	sweeper   *sweeper.Sweeper
	scheduler *sweeper.Scheduler
	log       *zerolog.Logger
}

// NewSweepHandlers creates sweep handlers. scheduler may be nil, in which case
// async requests run synchronously.
func NewSweepHandlers(sw *sweeper.Sweeper, scheduler *sweeper.Scheduler, logger *zerolog.Logger) *SweepHandlers {
	return &SweepHandlers{sweeper: sw, scheduler: scheduler, log: logger}
}

// SweepResponse describes one room sweep.
type SweepResponse struct {
	ExpiredDeleted int   `json:"expired_deleted"`
	StaleDeleted   int   `json:"stale_deleted"`
	RemainingCount int64 `json:"remaining_count"`
}

// SweepAllResponse describes a full pass.
type SweepAllResponse struct {
	Rooms    map[string]SweepResponse `json:"rooms"`
	Failures map[string]string        `json:"failures,omitempty"`
}

func sweepResponse(res sweeper.Result) SweepResponse {
	return SweepResponse{
		ExpiredDeleted: res.ExpiredDeleted,
		StaleDeleted:   res.StaleDeleted,
		RemainingCount: res.RemainingCount,
	}
}

// SweepRoom sweeps one room. With ?async=true the sweep is queued and the
// handler answers 202 immediately.
// POST /api/rooms/:id/sweep
func (h *SweepHandlers) SweepRoom(c *gin.Context) {
	roomID := c.Param("id")

	if c.Query("async") == "true" && h.scheduler != nil {
		if !h.scheduler.Trigger(roomID) {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "sweep queue full", Retryable: true})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
		return
	}

	res, err := h.sweeper.SweepRoom(c.Request.Context(), roomID)
	if err != nil {
		respondError(c, h.log, roomErr(roomID, err))
		return
	}
	c.JSON(http.StatusOK, sweepResponse(res))
}

// SweepAll sweeps every room and reports per-room outcomes.
// POST /api/sweep
func (h *SweepHandlers) SweepAll(c *gin.Context) {
	report, err := h.sweeper.SweepAll(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	resp := SweepAllResponse{
		Rooms:    make(map[string]SweepResponse, len(report.Results)),
		Failures: make(map[string]string, len(report.Failures)),
	}
	for id, res := range report.Results {
		resp.Rooms[id] = sweepResponse(res)
	}
	for id, err := range report.Failures {
		resp.Failures[id] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

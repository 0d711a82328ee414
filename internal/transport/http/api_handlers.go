package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/trekchat/internal/core"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// statusFor maps a domain error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case core.ErrCodeRoomNotFound:
		return http.StatusNotFound
	case core.ErrCodePermissionDenied:
		return http.StatusForbidden
	case core.ErrCodeBadRequest:
		return http.StatusBadRequest
	case core.ErrCodeConflict:
		return http.StatusConflict
	case core.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as an ErrorResponse. Internal errors are logged and
// their details hidden from the client.
func respondError(c *gin.Context, logger *zerolog.Logger, err error) {
	status, resp := errorResponse(logger, c.Request.URL.Path, err)
	c.JSON(status, resp)
}

// writeError is respondError for handlers served outside gin.
func writeError(w http.ResponseWriter, r *http.Request, logger *zerolog.Logger, err error) {
	status, resp := errorResponse(logger, r.URL.Path, err)
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorResponse(logger *zerolog.Logger, path string, err error) (int, ErrorResponse) {
	var ce *core.CoreError
	if !errors.As(err, &ce) {
		ce = core.FromStore("request", err)
	}

	status := statusFor(ce.Code)
	resp := ErrorResponse{Error: ce.Message, Code: ce.Code, Retryable: ce.Retryable()}
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", path).Msg("request failed")
		resp.Error = "internal server error"
	} else {
		logger.Debug().Err(err).Str("path", path).Int("status", status).Msg("request rejected")
	}
	return status, resp
}

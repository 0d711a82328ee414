package http

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/trekchat/internal/auth"
	"github.com/vovakirdan/trekchat/internal/core"
	"github.com/vovakirdan/trekchat/internal/metrics"
)

const (
	// HeaderUserID carries the caller identity established by the fronting gateway.
	HeaderUserID = "X-User-ID"
	// HeaderUserName carries the caller's display name.
	HeaderUserName = "X-User-Name"
	// HeaderUserPhoto carries the caller's avatar URL.
	HeaderUserPhoto = "X-User-Photo"

	// ContextKeyUserID is the context key for storing user ID.
	ContextKeyUserID = "user_id"
	// ContextKeyUserName is the context key for storing the display name.
	ContextKeyUserName = "user_name"
	// ContextKeyUserPhoto is the context key for storing the avatar URL.
	ContextKeyUserPhoto = "user_photo"
)

// Identity is the caller as seen by handlers.
type Identity struct {
	UserID string
	Name   string
	Photo  string
}

var (
	errMissingIdentity = errors.New("missing " + HeaderUserID + " header")
	errMissingToken    = errors.New("missing authorization header")
	errBadToken        = errors.New("invalid token")
)

// resolveIdentity establishes the caller of r. With tokens enabled the
// identity comes from a verified bearer token only; otherwise the gateway's
// identity headers are trusted. Browsers cannot set headers on WebSocket
// upgrades, so query parameters are accepted as a fallback.
func resolveIdentity(r *http.Request, jwtCfg *auth.JWTConfig) (Identity, error) {
	query := r.URL.Query()

	if jwtCfg.Enabled() {
		token := bearerToken(r)
		if token == "" {
			return Identity{}, errMissingToken
		}
		claims, err := auth.ValidateToken(jwtCfg, token)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %v", errBadToken, err)
		}
		return Identity{UserID: claims.UserID, Name: claims.Name, Photo: claims.Photo}, nil
	}

	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		userID = strings.TrimSpace(query.Get("user_id"))
	}
	if userID == "" {
		return Identity{}, errMissingIdentity
	}

	name := r.Header.Get(HeaderUserName)
	if name == "" {
		name = query.Get("user_name")
	}
	return Identity{UserID: userID, Name: name, Photo: r.Header.Get(HeaderUserPhoto)}, nil
}

// unauthorizedMessage is the client-facing text for a resolveIdentity error.
func unauthorizedMessage(err error) string {
	if errors.Is(err, errBadToken) {
		return errBadToken.Error()
	}
	return err.Error()
}

// IdentityMiddleware requires a caller identity on every request.
func IdentityMiddleware(jwtCfg *auth.JWTConfig, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, err := resolveIdentity(c.Request, jwtCfg)
		if err != nil {
			logger.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("unauthenticated request")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: unauthorizedMessage(err)})
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, ident.UserID)
		c.Set(ContextKeyUserName, ident.Name)
		c.Set(ContextKeyUserPhoto, ident.Photo)

		c.Next()
	}
}

// AdminMiddleware lets through only the listed users. It must run after
// IdentityMiddleware.
func AdminMiddleware(admins []string, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, _ := identityFrom(c)
		if !slices.Contains(admins, ident.UserID) {
			logger.Warn().Str("user_id", ident.UserID).Str("path", c.Request.URL.Path).Msg("admin route denied")
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "admin access required", Code: core.ErrCodePermissionDenied})
			c.Abort()
			return
		}
		c.Next()
	}
}

func bearerToken(r *http.Request) string {
	// Extract token from "Bearer <token>"
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return strings.TrimSpace(parts[1])
	}
	return r.URL.Query().Get("token")
}

// identityFrom reads the identity stored by IdentityMiddleware.
func identityFrom(c *gin.Context) (Identity, bool) {
	userID := c.GetString(ContextKeyUserID)
	if userID == "" {
		return Identity{}, false
	}
	return Identity{
		UserID: userID,
		Name:   c.GetString(ContextKeyUserName),
		Photo:  c.GetString(ContextKeyUserPhoto),
	}, true
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Process request
		c.Next()

		// Log after request
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

// MetricsMiddleware counts requests by route template.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

package http

import (
	"context"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/trekchat/internal/auth"
	"github.com/vovakirdan/trekchat/internal/config"
	"github.com/vovakirdan/trekchat/internal/service/messages"
	"github.com/vovakirdan/trekchat/internal/store"
	"github.com/vovakirdan/trekchat/internal/sweeper"
)

// Deps bundles the collaborators served over HTTP.
type Deps struct {
	Messages  *messages.Service
	Rooms     store.RoomRegistry
	Sweeper   *sweeper.Sweeper
	Scheduler *sweeper.Scheduler // optional, enables async sweeps
	JWT       *auth.JWTConfig    // optional, enables bearer token identity
}

// Server is the HTTP server plus the room streams it has upgraded.
type Server struct {
	*stdhttp.Server
	streams *WSHandler
}

// NewServer builds an HTTP server with REST API routes and room streams.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	router.Use(MetricsMiddleware())

	router.GET("/health", healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	roomHandlers := NewRoomHandlers(deps.Rooms, cfg.MessageLifetime, logger)
	messageHandlers := NewMessageHandlers(deps.Messages, logger)
	sweepHandlers := NewSweepHandlers(deps.Sweeper, deps.Scheduler, logger)
	wsHandler := NewWSHandler(deps.Messages, deps.JWT, cfg.WSMessageRate, logger)

	api := router.Group("/api")
	api.Use(IdentityMiddleware(deps.JWT, logger))
	{
		api.GET("/rooms", roomHandlers.ListRooms)
		api.POST("/rooms", roomHandlers.CreateRoom)
		api.GET("/rooms/:id", roomHandlers.GetRoom)
		api.POST("/rooms/:id/members", roomHandlers.JoinRoom)

		api.GET("/rooms/:id/messages", messageHandlers.ListMessages)
		api.POST("/rooms/:id/messages", messageHandlers.PostMessage)

		admin := api.Group("", AdminMiddleware(cfg.AdminUsers, logger))
		admin.POST("/rooms/:id/sweep", sweepHandlers.SweepRoom)
		admin.POST("/sweep", sweepHandlers.SweepAll)
	}

	// Upgrades bypass gin: its writer refuses to hijack once headers are
	// flushed, which websocket.Accept does first.
	mux := stdhttp.NewServeMux()
	mux.Handle("GET /ws/rooms/{id}", wsHandler)
	mux.Handle("/", router)

	return &Server{
		Server: &stdhttp.Server{
			Addr:              cfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		streams: wsHandler,
	}
}

// Shutdown stops accepting connections, closes open room streams and waits
// for their handlers, so stores can be closed safely afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Server.Shutdown(ctx)
	if closeErr := s.streams.Close(ctx); err == nil {
		err = closeErr
	}
	return err
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

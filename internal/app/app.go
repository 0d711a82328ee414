package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/trekchat/internal/auth"
	"github.com/vovakirdan/trekchat/internal/config"
	"github.com/vovakirdan/trekchat/internal/core"
	"github.com/vovakirdan/trekchat/internal/service/messages"
	"github.com/vovakirdan/trekchat/internal/store"
	"github.com/vovakirdan/trekchat/internal/store/redis"
	"github.com/vovakirdan/trekchat/internal/store/sqlite"
	"github.com/vovakirdan/trekchat/internal/sweeper"
	transporthttp "github.com/vovakirdan/trekchat/internal/transport/http"
)

// App wires together stores, services and transport layers.
type App struct {
	server          *transporthttp.Server
	shutdownTimeout time.Duration
	scheduler       *sweeper.Scheduler
	sweeper         *sweeper.Sweeper
	closers         []namedCloser
	log             *zerolog.Logger
}

type namedCloser struct {
	name  string
	close func() error
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}

	// Rooms always live in SQLite; messages may move to Redis.
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.closers = append(a.closers, namedCloser{name: "sqlite", close: st.Close})
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	var msgStore store.MessageStore = st
	if cfg.StoreBackend == config.BackendRedis {
		rs, err := redis.New(ctx, cfg.RedisURL, redis.WithLogger(logger))
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("init redis message store: %w", err)
		}
		a.closers = append(a.closers, namedCloser{name: "redis", close: rs.Close})
		msgStore = rs
		logger.Info().Msg("redis message store initialized")
	}

	a.sweeper = sweeper.New(msgStore, st, logger,
		sweeper.WithDefaultLifetime(cfg.MessageLifetime),
		sweeper.WithWorkers(cfg.SweepWorkers),
	)
	a.scheduler = sweeper.NewScheduler(a.sweeper, cfg.SweepInterval, nil, logger)

	hub := core.NewHub()
	svc := messages.New(msgStore, st, hub, a.sweeper, messages.Config{
		DefaultLifetime: cfg.MessageLifetime,
		MaxTextBytes:    cfg.MaxMessageBytes,
	}, logger)
	a.sweeper.Observe(svc.RoomSwept)

	var jwtCfg *auth.JWTConfig
	if cfg.JWTSecret != "" {
		jwtCfg = &auth.JWTConfig{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		}
		logger.Info().Msg("bearer token identity enabled")
	}

	a.server = transporthttp.NewServer(transporthttp.Deps{
		Messages:  svc,
		Rooms:     st,
		Sweeper:   a.sweeper,
		Scheduler: a.scheduler,
		JWT:       jwtCfg,
	}, cfg, logger)

	return a, nil
}

// Run starts the HTTP server and the sweep scheduler and blocks until context
// cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	schedCtx, stopScheduler := context.WithCancel(ctx)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := a.scheduler.Run(schedCtx); err != nil {
			a.log.Error().Err(err).Msg("sweep scheduler exited")
		}
	}()
	stop := func() {
		stopScheduler()
		<-schedDone
		a.cleanup()
	}

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		stop()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		// Shutdown also drains room streams before stores are closed.
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			stop()
			return err
		}

		stop()
		return <-serverErr
	}
}

// SweepOnce runs a single full pass and releases resources.
func (a *App) SweepOnce(ctx context.Context) (sweeper.Report, error) {
	defer a.cleanup()
	return a.sweeper.SweepAll(ctx)
}

// cleanup closes stores in reverse order of creation.
func (a *App) cleanup() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.log.Warn().Err(err).Str("store", c.name).Msg("failed to close store")
		} else {
			a.log.Info().Str("store", c.name).Msg("store closed")
		}
	}
	a.closers = nil
}

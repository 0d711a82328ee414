package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/trekchat/internal/config"
	"github.com/vovakirdan/trekchat/internal/core"
	"github.com/vovakirdan/trekchat/internal/service/messages"
	"github.com/vovakirdan/trekchat/internal/store"
	"github.com/vovakirdan/trekchat/internal/store/sqlite"
	"github.com/vovakirdan/trekchat/internal/sweeper"
)

var testEpoch = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store   *sqlite.SQLiteStore
	clock   *clock.Mock
	handler http.Handler
	server  *Server
	sched   *sweeper.Scheduler
}

// newTestEnv wires an in-memory store, the message service and the router.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(testEpoch)

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema, sqlite.WithClock(mock))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	disabledLogger := zerolog.New(nil)

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.MaxMessageBytes = 256
	cfg.WSMessageRate = 0
	cfg.AdminUsers = []string{"ops"}

	hub := core.NewHub()
	sw := sweeper.New(st, st, &disabledLogger, sweeper.WithClock(mock))
	svc := messages.New(st, st, hub, sw, messages.Config{
		DefaultLifetime: cfg.MessageLifetime,
		MaxTextBytes:    cfg.MaxMessageBytes,
	}, &disabledLogger).WithClock(mock)
	sw.Observe(svc.RoomSwept)
	sched := sweeper.NewScheduler(sw, cfg.SweepInterval, mock, &disabledLogger)

	server := NewServer(Deps{
		Messages:  svc,
		Rooms:     st,
		Sweeper:   sw,
		Scheduler: sched,
	}, &cfg, &disabledLogger)

	return &testEnv{store: st, clock: mock, handler: server.Handler, server: server, sched: sched}
}

func (e *testEnv) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}

	resp := httptest.NewRecorder()
	e.handler.ServeHTTP(resp, req)
	return resp
}

func (e *testEnv) createRoom(t *testing.T, name string, lifetime time.Duration, members ...string) *store.Room {
	t.Helper()

	ctx := context.Background()
	room, err := e.store.CreateRoom(ctx, name, "", lifetime)
	if err != nil {
		t.Fatalf("failed to create room %s: %v", name, err)
	}
	for _, m := range members {
		if err := e.store.AddMember(ctx, room.ID, m); err != nil {
			t.Fatalf("failed to add member %s: %v", m, err)
		}
	}
	return room
}

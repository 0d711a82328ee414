package messages

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/trekchat/internal/core"
	"github.com/vovakirdan/trekchat/internal/store"
	"github.com/vovakirdan/trekchat/internal/store/sqlite"
	"github.com/vovakirdan/trekchat/internal/sweeper"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	st    *sqlite.SQLiteStore
	mock  *clock.Mock
	hub   *core.Hub
	sw    *sweeper.Sweeper
	svc   *Service
	room  *store.Room
	alice string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(t0)

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema, sqlite.WithClock(mock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	hub := core.NewHub()
	sw := sweeper.New(st, st, nil, sweeper.WithClock(mock))
	svc := New(st, st, hub, sw, Config{DefaultLifetime: time.Hour, MaxTextBytes: 64}, nil).WithClock(mock)
	sw.Observe(svc.RoomSwept)

	ctx := context.Background()
	room, err := st.CreateRoom(ctx, "general", "", time.Hour)
	require.NoError(t, err)
	require.NoError(t, st.AddMember(ctx, room.ID, "alice"))

	return &env{st: st, mock: mock, hub: hub, sw: sw, svc: svc, room: room, alice: "alice"}
}

func recv(t *testing.T, sub *core.Subscription) core.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
		return core.Snapshot{}
	}
}

func texts(snap core.Snapshot) []string {
	out := make([]string, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		out = append(out, m.Text)
	}
	return out
}

func TestAppendMessage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	msg, err := e.svc.AppendMessage(ctx, AppendRequest{
		RoomID:     e.room.ID,
		AuthorID:   e.alice,
		AuthorName: "Alice",
		Text:       "hello",
		ClientID:   "c1",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "c1", msg.ClientID)
	assert.Equal(t, store.StateConfirmed, msg.State)
	assert.True(t, msg.CreatedAt.Equal(t0))
	require.NotNil(t, msg.ExpiresAt)
	assert.True(t, msg.ExpiresAt.Equal(t0.Add(time.Hour)))

	room, err := e.st.GetRoom(ctx, e.room.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, room.MessageCount)
}

func TestAppendMessageErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		req       AppendRequest
		code      string
		retryable bool
	}{
		{
			name: "missing author",
			req:  AppendRequest{RoomID: e.room.ID, Text: "x"},
			code: core.ErrCodeBadRequest,
		},
		{
			name: "too large",
			req:  AppendRequest{RoomID: e.room.ID, AuthorID: e.alice, Text: string(make([]byte, 65))},
			code: core.ErrCodeBadRequest,
		},
		{
			name: "unknown room",
			req:  AppendRequest{RoomID: "ghost", AuthorID: e.alice, Text: "x"},
			code: core.ErrCodeRoomNotFound,
		},
		{
			name: "not a member",
			req:  AppendRequest{RoomID: e.room.ID, AuthorID: "mallory", Text: "x"},
			code: core.ErrCodePermissionDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.AppendMessage(ctx, tt.req)
			require.Error(t, err)

			var ce *core.CoreError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.code, ce.Code)
			assert.Equal(t, tt.retryable, ce.Retryable())
		})
	}

	n, err := e.st.CountMessages(ctx, e.room.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// unavailableStore fails appends with a transient error.
type unavailableStore struct {
	*sqlite.SQLiteStore
}

func (unavailableStore) Append(context.Context, *store.Message, time.Duration) error {
	return store.ErrUnavailable
}

func TestAppendMessageUnavailableIsRetryable(t *testing.T) {
	e := newEnv(t)
	svc := New(unavailableStore{e.st}, e.st, e.hub, nil, Config{}, nil)

	_, err := svc.AppendMessage(context.Background(), AppendRequest{RoomID: e.room.ID, AuthorID: e.alice, Text: "x"})
	require.Error(t, err)

	var ce *core.CoreError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, core.ErrCodeUnavailable, ce.Code)
	assert.True(t, ce.Retryable())
}

func TestSubscribeRoomStreamsSnapshots(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := e.svc.AppendMessage(ctx, AppendRequest{RoomID: e.room.ID, AuthorID: e.alice, Text: "first"})
	require.NoError(t, err)

	sub, err := e.svc.SubscribeRoom(ctx, e.room.ID)
	require.NoError(t, err)

	initial := recv(t, sub)
	assert.Equal(t, []string{"first"}, texts(initial))
	assert.EqualValues(t, 1, initial.Count)

	e.mock.Add(time.Minute)
	_, err = e.svc.AppendMessage(ctx, AppendRequest{RoomID: e.room.ID, AuthorID: e.alice, Text: "second"})
	require.NoError(t, err)

	next := recv(t, sub)
	assert.Equal(t, []string{"first", "second"}, texts(next))

	cancel()
	require.Eventually(t, func() bool { return e.hub.Subscribers(e.room.ID) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSubscribeRoomUnknown(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.SubscribeRoom(context.Background(), "ghost")
	assert.ErrorIs(t, err, core.ErrRoomNotFound)
	assert.Zero(t, e.hub.Subscribers("ghost"))
}

func TestOpenRoomSweepsBeforeSubscribing(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := e.svc.AppendMessage(ctx, AppendRequest{RoomID: e.room.ID, AuthorID: e.alice, Text: "old"})
	require.NoError(t, err)
	e.mock.Add(2 * time.Hour)
	_, err = e.svc.AppendMessage(ctx, AppendRequest{RoomID: e.room.ID, AuthorID: e.alice, Text: "new"})
	require.NoError(t, err)

	sub, err := e.svc.OpenRoom(ctx, e.room.ID)
	require.NoError(t, err)

	snap := recv(t, sub)
	assert.Equal(t, []string{"new"}, texts(snap))

	room, err := e.st.GetRoom(ctx, e.room.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, room.MessageCount)
}

func TestScheduledSweepRepublishes(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := e.svc.AppendMessage(ctx, AppendRequest{RoomID: e.room.ID, AuthorID: e.alice, Text: "short-lived"})
	require.NoError(t, err)

	sub, err := e.svc.SubscribeRoom(ctx, e.room.ID)
	require.NoError(t, err)
	assert.Len(t, recv(t, sub).Messages, 1)

	e.mock.Add(time.Hour)
	res, err := e.sw.SweepRoom(ctx, e.room.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExpiredDeleted)

	snap := recv(t, sub)
	assert.Empty(t, snap.Messages)
	assert.Zero(t, snap.Count)
}

package reconcile

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/trekchat/internal/store"
)

func newMockCache(t *testing.T, opts ...CacheOption) (*Cache, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(base)
	c := NewCache(append([]CacheOption{WithClock(mock)}, opts...)...)
	t.Cleanup(c.Close)
	return c, mock
}

func TestCacheAddAssignsClientID(t *testing.T) {
	c, mock := newMockCache(t)

	msg := c.Add(store.Message{RoomID: "R1", AuthorID: "u1", Text: "hi"})
	assert.NotEmpty(t, msg.ClientID)
	assert.Equal(t, store.StatePending, msg.State)
	assert.True(t, msg.AttemptedAt.Equal(mock.Now()))
	assert.Len(t, c.List("R1"), 1)
	assert.Empty(t, c.List("R2"))
}

func TestCacheDropsStalePending(t *testing.T) {
	var stale atomic.Int32
	c, mock := newMockCache(t, WithStaleHook(func(store.Message) { stale.Add(1) }))

	c.Add(store.Message{ClientID: "c1", RoomID: "R1", AuthorID: "u1", Text: "hi"})
	c.Add(store.Message{ClientID: "c2", RoomID: "R1", AuthorID: "u1", Text: "bye"})
	require.True(t, c.MarkFailed("c2", "permission denied"))

	mock.Add(29 * time.Second)
	assert.Equal(t, 2, c.Len())

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 5*time.Millisecond)

	left := c.List("R1")
	require.Len(t, left, 1)
	assert.Equal(t, "c2", left[0].ClientID, "failed entries are not removed by the staleness timer")
	assert.Equal(t, store.StateFailed, left[0].State)
	assert.Equal(t, "permission denied", left[0].FailReason)
	assert.EqualValues(t, 1, stale.Load())
}

func TestCacheConfirmDisarmsTimer(t *testing.T) {
	var stale atomic.Int32
	c, mock := newMockCache(t, WithStaleHook(func(store.Message) { stale.Add(1) }))

	c.Add(store.Message{ClientID: "c1", RoomID: "R1", Text: "hi"})
	assert.True(t, c.Confirm("c1"))
	assert.False(t, c.Confirm("c1"))

	mock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, stale.Load())
}

func TestCacheRetryIssuesNewClientID(t *testing.T) {
	c, _ := newMockCache(t)

	c.Add(store.Message{ClientID: "c1", RoomID: "R1", Text: "hi"})
	_, ok := c.Retry("c1")
	assert.False(t, ok, "only failed entries can be retried")

	c.MarkFailed("c1", "timeout")
	retried, ok := c.Retry("c1")
	require.True(t, ok)
	assert.NotEqual(t, "c1", retried.ClientID)
	assert.Equal(t, store.StatePending, retried.State)
	assert.Empty(t, retried.FailReason)

	list := c.List("R1")
	require.Len(t, list, 1)
	assert.Equal(t, retried.ClientID, list[0].ClientID)
}

func TestCacheFeedsReconcile(t *testing.T) {
	c, mock := newMockCache(t)
	sent := c.Add(store.Message{RoomID: "R1", AuthorID: "u1", Text: "hi"})

	confirmed := []store.Message{{
		ID: "m1", ClientID: sent.ClientID, RoomID: "R1", AuthorID: "u1", Text: "hi",
		CreatedAt: mock.Now(), State: store.StateConfirmed,
	}}
	r := Reconciler{Now: mock.Now}

	out := r.Reconcile(confirmed, c.List("R1"))
	require.Len(t, out, 1)
	assert.Equal(t, "m1", out[0].ID)
}

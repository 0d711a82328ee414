package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/trekchat/internal/store"
)

func newTestStore(t *testing.T) (*SQLiteStore, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	s, err := NewWithSetup(":memory:", ApplySchema, WithClock(mock))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return s, mock
}

func TestRoomLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, "himalaya", "Annapurna circuit", 0)
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if room.Lifetime != 8*time.Hour {
		t.Errorf("expected default lifetime 8h, got %v", room.Lifetime)
	}

	if err := s.AddMember(ctx, room.ID, "u1"); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	// Adding twice is a no-op.
	if err := s.AddMember(ctx, room.ID, "u1"); err != nil {
		t.Fatalf("second AddMember failed: %v", err)
	}
	if err := s.AddMember(ctx, room.ID, "u2"); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	got, err := s.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetRoom failed: %v", err)
	}
	if got.MemberCount != 2 || len(got.Members) != 2 {
		t.Errorf("expected 2 members, got count=%d members=%v", got.MemberCount, got.Members)
	}

	ok, err := s.IsMember(ctx, room.ID, "u3")
	if err != nil || ok {
		t.Errorf("expected u3 not to be member, got %v %v", ok, err)
	}

	if _, err := s.CreateRoom(ctx, "himalaya", "", 0); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate name, got %v", err)
	}

	if _, err := s.GetRoom(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.AddMember(ctx, "missing", "u1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing room, got %v", err)
	}
}

func TestMessageCounters(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, "alps", "", time.Hour)
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	for range 3 {
		if err := s.IncrementMessageCount(ctx, room.ID); err != nil {
			t.Fatalf("IncrementMessageCount failed: %v", err)
		}
	}
	got, _ := s.GetRoom(ctx, room.ID)
	if got.MessageCount != 3 {
		t.Fatalf("expected count 3, got %d", got.MessageCount)
	}

	if err := s.SetMessageCount(ctx, room.ID, 1); err != nil {
		t.Fatalf("SetMessageCount failed: %v", err)
	}
	got, _ = s.GetRoom(ctx, room.ID)
	if got.MessageCount != 1 {
		t.Fatalf("expected count 1, got %d", got.MessageCount)
	}

	if err := s.SetMessageCount(ctx, "missing", 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendAndQueries(t *testing.T) {
	s, mock := newTestStore(t)
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, "dolomites", "", time.Hour)
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	start := mock.Now()

	first := &store.Message{RoomID: room.ID, AuthorID: "u1", Text: "first", ClientID: "c1"}
	if err := s.Append(ctx, first, room.Lifetime); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if first.ID == "" || first.State != store.StateConfirmed {
		t.Fatalf("append did not confirm message: %+v", first)
	}
	if first.ExpiresAt == nil || !first.ExpiresAt.Equal(start.Add(time.Hour)) {
		t.Fatalf("unexpected expiry: %v", first.ExpiresAt)
	}

	mock.Add(30 * time.Minute)
	second := &store.Message{RoomID: room.ID, AuthorID: "u2", Text: "second"}
	if err := s.Append(ctx, second, room.Lifetime); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	legacy := &store.Message{RoomID: room.ID, AuthorID: "u3", Text: "legacy", CreatedAt: start.Add(-10 * time.Hour)}
	if err := s.Import(ctx, legacy); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	all, err := s.ListMessages(ctx, room.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	texts := make([]string, 0, len(all))
	for _, m := range all {
		texts = append(texts, m.Text)
	}
	want := []string{"legacy", "first", "second"}
	if len(texts) != len(want) {
		t.Fatalf("expected %v, got %v", want, texts)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, texts)
		}
	}
	if all[1].ClientID != "c1" {
		t.Errorf("client id not persisted: %+v", all[1])
	}
	if all[0].ExpiresAt != nil {
		t.Errorf("legacy row gained an expiry: %v", all[0].ExpiresAt)
	}

	expired, err := s.ListExpired(ctx, room.ID, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListExpired failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != first.ID {
		t.Fatalf("expected only first to be expired, got %+v", expired)
	}

	old, err := s.ListLegacy(ctx, room.ID, start.Add(-8*time.Hour))
	if err != nil {
		t.Fatalf("ListLegacy failed: %v", err)
	}
	if len(old) != 1 || old[0].ID != legacy.ID {
		t.Fatalf("expected legacy row, got %+v", old)
	}

	if err := s.DeleteMessage(ctx, room.ID, first.ID); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
	if err := s.DeleteMessage(ctx, room.ID, first.ID); err != nil {
		t.Fatalf("second DeleteMessage should be a no-op: %v", err)
	}

	n, err := s.CountMessages(ctx, room.ID)
	if err != nil {
		t.Fatalf("CountMessages failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 messages, got %d", n)
	}
}

package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/vovakirdan/trekchat/internal/store"
)

func TestHubPublishReachesRoomSubscribersOnly(t *testing.T) {
	hub := NewHub()

	alice := hub.Subscribe("general")
	bob := hub.Subscribe("general")
	other := hub.Subscribe("random")
	defer alice.Close()
	defer bob.Close()
	defer other.Close()

	hub.Publish(Snapshot{RoomID: "general", Count: 1})

	if snap := mustSnapshot(t, alice); snap.Count != 1 {
		t.Fatalf("unexpected snapshot for alice: %+v", snap)
	}
	if snap := mustSnapshot(t, bob); snap.Count != 1 {
		t.Fatalf("unexpected snapshot for bob: %+v", snap)
	}
	select {
	case snap := <-other.C():
		t.Fatalf("random subscriber received %+v", snap)
	default:
	}
}

func TestHubSlowConsumerSeesLatest(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("general")
	defer sub.Close()

	for i := 1; i <= 5; i++ {
		hub.Publish(Snapshot{RoomID: "general", Count: int64(i)})
	}

	if snap := mustSnapshot(t, sub); snap.Count != 5 {
		t.Fatalf("expected latest snapshot, got %+v", snap)
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("general")

	sub.Close()
	sub.Close()

	if _, ok := <-sub.C(); ok {
		t.Fatal("expected closed channel")
	}
	if n := hub.Subscribers("general"); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
	// Publishing to an empty room must not panic.
	hub.Publish(Snapshot{RoomID: "general"})
}

func TestFromStoreClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{name: "not found", err: fmt.Errorf("room x: %w", store.ErrNotFound), code: ErrCodeRoomNotFound},
		{name: "unavailable", err: fmt.Errorf("insert: %w", store.ErrUnavailable), code: ErrCodeUnavailable, retryable: true},
		{name: "other", err: errors.New("boom"), code: ErrCodeInternal},
		{name: "already typed", err: PermissionDenied("r", "u"), code: ErrCodePermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := FromStore("op", tt.err)
			if ce.Code != tt.code {
				t.Fatalf("expected code %s, got %s", tt.code, ce.Code)
			}
			if ce.Retryable() != tt.retryable {
				t.Fatalf("expected retryable=%v", tt.retryable)
			}
			if !errors.Is(ce, tt.err) && tt.code != ErrCodePermissionDenied {
				t.Fatalf("cause lost: %v", ce)
			}
		})
	}
}

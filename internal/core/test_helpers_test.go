package core

import (
	"testing"
	"time"
)

func mustSnapshot(t *testing.T, sub *Subscription) Snapshot {
	t.Helper()

	select {
	case snap, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("expected snapshot not received")
	}
	return Snapshot{}
}

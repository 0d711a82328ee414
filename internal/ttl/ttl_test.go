package ttl

import (
	"testing"
	"time"
)

func TestExpiresAtUsesDefaultForNonPositiveLifetime(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		lifetime time.Duration
		want     time.Time
	}{
		{name: "explicit", lifetime: time.Hour, want: created.Add(time.Hour)},
		{name: "zero", lifetime: 0, want: created.Add(DefaultLifetime)},
		{name: "negative", lifetime: -time.Minute, want: created.Add(DefaultLifetime)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpiresAt(created, tt.lifetime); !got.Equal(tt.want) {
				t.Fatalf("ExpiresAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEffectiveIgnoresUnusableExpiry(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	before := created.Add(-time.Second)
	later := created.Add(30 * time.Minute)

	if got := Effective(created, nil, time.Hour); !got.Equal(created.Add(time.Hour)) {
		t.Fatalf("nil expiry: got %v", got)
	}
	if got := Effective(created, &before, time.Hour); !got.Equal(created.Add(time.Hour)) {
		t.Fatalf("expiry before creation: got %v", got)
	}
	if got := Effective(created, &later, time.Hour); !got.Equal(later) {
		t.Fatalf("explicit expiry: got %v", got)
	}
}

func TestExpiredBoundary(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	exp := created.Add(time.Hour)

	if Expired(exp.Add(-time.Nanosecond), created, &exp, 0) {
		t.Fatal("message reported expired before its expiry")
	}
	if !Expired(exp, created, &exp, 0) {
		t.Fatal("message not expired at its expiry instant")
	}
	if !Expired(created.Add(DefaultLifetime), created, nil, 0) {
		t.Fatal("legacy message not expired after default lifetime")
	}
}

func TestUsable(t *testing.T) {
	created := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	before := created.Add(-time.Hour)
	after := created.Add(time.Hour)
	var zero time.Time

	if Usable(created, nil) || Usable(created, &zero) || Usable(created, &before) {
		t.Error("missing, zero and before-creation expiries must not be usable")
	}
	if !Usable(created, &created) || !Usable(created, &after) {
		t.Error("expiries at or after creation must be usable")
	}
}

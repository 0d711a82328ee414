// Package ttl computes message expiry instants from room lifetimes.
package ttl

import "time"

// DefaultLifetime is used for rooms without an explicit lifetime and for
// legacy messages stored without an expiry instant.
const DefaultLifetime = 8 * time.Hour

// Lifetime returns lifetime, or DefaultLifetime when lifetime is not positive.
func Lifetime(lifetime time.Duration) time.Duration {
	if lifetime <= 0 {
		return DefaultLifetime
	}
	return lifetime
}

// ExpiresAt returns the instant a message created at createdAt expires under
// the given room lifetime. The result is never before createdAt.
func ExpiresAt(createdAt time.Time, lifetime time.Duration) time.Time {
	return createdAt.Add(Lifetime(lifetime))
}

// Usable reports whether a stored expiry can be trusted. Missing, zero and
// before-creation values are not; such messages age out by lifetime instead.
func Usable(createdAt time.Time, expiresAt *time.Time) bool {
	return expiresAt != nil && !expiresAt.IsZero() && !expiresAt.Before(createdAt)
}

// Effective returns the stored expiry when it is usable, otherwise the one
// derived from createdAt and fallback.
func Effective(createdAt time.Time, expiresAt *time.Time, fallback time.Duration) time.Time {
	if Usable(createdAt, expiresAt) {
		return *expiresAt
	}
	return ExpiresAt(createdAt, fallback)
}

// Expired reports whether a message is past its expiry at now.
func Expired(now, createdAt time.Time, expiresAt *time.Time, fallback time.Duration) bool {
	return !Effective(createdAt, expiresAt, fallback).After(now)
}

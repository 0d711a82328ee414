// Package reconcile merges a client's optimistic messages with the confirmed
// stream of a room into one duplicate-free, ordered view.
//
// Matching by ClientID is exact. Matching confirmed messages that carry no
// ClientID echo is a heuristic: same author, identical text and the same
// coarse time bucket. It may let a duplicate through but never hides a
// message whose text differs.
package reconcile

import (
	"sort"
	"time"

	"github.com/vovakirdan/trekchat/internal/store"
)

// DefaultDedupBucket is the width of the time bucket used by the heuristic.
const DefaultDedupBucket = 10 * time.Second

// Reconciler holds the tunables of the merge. The zero value is usable.
type Reconciler struct {
	// DedupBucket is the heuristic bucket width, DefaultDedupBucket when zero.
	DedupBucket time.Duration
	// Now supplies the instant used for local messages without an attempt
	// instant, time.Now when nil.
	Now func() time.Time
}

// Reconcile merges with default settings.
func Reconcile(confirmed, local []store.Message) []store.Message {
	return Reconciler{}.Reconcile(confirmed, local)
}

func (r Reconciler) bucket() time.Duration {
	if r.DedupBucket <= 0 {
		return DefaultDedupBucket
	}
	return r.DedupBucket
}

func (r Reconciler) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

type heuristicKey struct {
	author string
	text   string
	bucket int64
}

func (r Reconciler) keyFor(author, text string, at time.Time) heuristicKey {
	width := r.bucket()
	return heuristicKey{author: author, text: text, bucket: at.UnixNano() / int64(width)}
}

// entry pairs a message with the instant it sorts by.
type entry struct {
	msg   store.Message
	at    time.Time
	local bool
}

// Reconcile returns confirmed plus every local message that does not match a
// confirmed one, ordered by effective timestamp. It performs no I/O.
func (r Reconciler) Reconcile(confirmed, local []store.Message) []store.Message {
	byClientID := make(map[string]struct{}, len(confirmed))
	// value reports whether some confirmed message in the bucket has no ClientID
	byHeuristic := make(map[heuristicKey]bool, len(confirmed))
	var tail time.Time

	entries := make([]entry, 0, len(confirmed)+len(local))
	seenIDs := make(map[string]struct{}, len(confirmed))
	for _, c := range confirmed {
		if c.ID != "" {
			if _, dup := seenIDs[c.ID]; dup {
				continue
			}
			seenIDs[c.ID] = struct{}{}
		}
		if c.ClientID != "" {
			byClientID[c.ClientID] = struct{}{}
		}
		key := r.keyFor(c.AuthorID, c.Text, c.CreatedAt)
		byHeuristic[key] = byHeuristic[key] || c.ClientID == ""
		if c.CreatedAt.After(tail) {
			tail = c.CreatedAt
		}
		c.State = store.StateConfirmed
		entries = append(entries, entry{msg: c, at: c.CreatedAt})
	}

	now := r.now()
	if now.Before(tail) {
		now = tail
	}

	for _, l := range local {
		if l.ClientID != "" {
			if _, ok := byClientID[l.ClientID]; ok {
				continue
			}
		}
		at := localInstant(l, now)
		if r.probableDuplicate(l, at, byHeuristic) {
			continue
		}
		entries = append(entries, entry{msg: l, at: at, local: true})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].at.Equal(entries[j].at) {
			return entries[i].at.Before(entries[j].at)
		}
		return !entries[i].local && entries[j].local
	})

	out := make([]store.Message, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out
}

// probableDuplicate applies the (author, text, bucket) test. Two distinct
// ClientIDs always mean two send attempts, so those never match.
func (r Reconciler) probableDuplicate(l store.Message, at time.Time, index map[heuristicKey]bool) bool {
	anonymous, ok := index[r.keyFor(l.AuthorID, l.Text, at)]
	if !ok {
		return false
	}
	return l.ClientID == "" || anonymous
}

// localInstant is the ordering instant of a not-yet-confirmed message: the
// recorded send attempt if any, otherwise now. The locally synthesized
// CreatedAt is never used.
func localInstant(l store.Message, now time.Time) time.Time {
	if !l.AttemptedAt.IsZero() {
		return l.AttemptedAt
	}
	return now
}

// EffectiveTime returns the instant msg sorts by in a reconciled view.
func (r Reconciler) EffectiveTime(msg store.Message) time.Time {
	if msg.State == store.StateConfirmed && msg.ID != "" {
		return msg.CreatedAt
	}
	return localInstant(msg, r.now())
}

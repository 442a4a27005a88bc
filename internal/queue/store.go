// Package queue provides the durable waiting pool for the pairwise matcher.
// Entries are keyed by user id; a user has at most one active entry at any
// time. The Claim primitive is what makes pairing race-safe: it consumes a
// specific set of entries all-or-nothing, so two concurrent matchers can
// never both take the same candidate.
package queue

import (
	"context"
	"fmt"
)

// Gender values accepted by the waiting pool. The matcher pairs the two
// configured genders; anything else is rejected before enqueueing.
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// Entry represents a user waiting to be paired.
type Entry struct {
	UserID   string
	Gender   string
	City     string
	District string
	JoinedAt float64 // Unix timestamp in milliseconds
}

// Store is the durable record of users waiting to be paired.
type Store interface {
	// Enqueue inserts an active entry for the user, first deactivating any
	// prior entry so the single-active-entry invariant holds.
	Enqueue(ctx context.Context, e Entry) error

	// Dequeue deactivates the user's active entry, if any. Idempotent.
	Dequeue(ctx context.Context, userID string) error

	// GetActive returns the user's active entry, or nil if not queued.
	GetActive(ctx context.Context, userID string) (*Entry, error)

	// ListCandidates returns active entries of the wanted gender, excluding
	// the given user, ordered oldest-joined-first.
	ListCandidates(ctx context.Context, excludeUserID, wantedGender string) ([]Entry, error)

	// Claim atomically deactivates both entries only if both are still
	// active. Returns false when either was already consumed (lost race).
	Claim(ctx context.Context, userA, userB string) (bool, error)

	// Size returns the number of users currently waiting.
	Size(ctx context.Context) (int64, error)
}

func errUnsupportedGender(gender string) error {
	return fmt.Errorf("queue: unsupported gender %q", gender)
}

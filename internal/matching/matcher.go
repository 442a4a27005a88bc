// Package matching implements the pairing algorithm over the waiting pool.
// Candidates are ranked by locality tier (same district, then same city,
// then anywhere) with FIFO order inside a tier, and consumed through the
// queue's atomic Claim so concurrent matchers never pair the same candidate
// twice.
package matching

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/litxtech/mytrabzon-match/internal/abuse"
	"github.com/litxtech/mytrabzon-match/internal/queue"
	"github.com/litxtech/mytrabzon-match/internal/session"
)

// Profile is the requester's matching input, supplied by the identity
// provider at the boundary.
type Profile struct {
	UserID   string
	Gender   string
	City     string
	District string
}

// BlockChecker answers whether two users have a blocking relationship in
// either direction. The block lists are owned by the social backend; the
// matcher only consumes them.
type BlockChecker interface {
	Blocked(ctx context.Context, userA, userB string) (bool, error)
}

// NoBlocks is a BlockChecker that never blocks, for deployments where the
// relationship service is not wired.
type NoBlocks struct{}

// Blocked always reports no blocking relationship.
func (NoBlocks) Blocked(ctx context.Context, userA, userB string) (bool, error) {
	return false, nil
}

// EligibilityChecker filters restricted users out of the candidate pool.
type EligibilityChecker interface {
	CheckEligibility(ctx context.Context, userID string) (*abuse.Eligibility, error)
}

// Matcher pairs a requester with the best-ranked waiting candidate.
type Matcher struct {
	queue    queue.Store
	sessions session.Store
	blocks   BlockChecker
	guard    EligibilityChecker
}

// NewMatcher creates a matcher over the given stores.
func NewMatcher(q queue.Store, s session.Store, blocks BlockChecker, guard EligibilityChecker) *Matcher {
	return &Matcher{queue: q, sessions: s, blocks: blocks, guard: guard}
}

// Locality tiers. Lower is better; FIFO by join time inside a tier.
const (
	tierDistrict = 0
	tierCity     = 1
	tierAny      = 2
)

func tierOf(p Profile, e queue.Entry) int {
	switch {
	case e.District != "" && e.District == p.District:
		return tierDistrict
	case e.City != "" && e.City == p.City:
		return tierCity
	default:
		return tierAny
	}
}

// Opposite returns the opposite gender for the binary pairing policy, or ""
// for unsupported values.
func Opposite(gender string) string {
	switch gender {
	case queue.GenderMale:
		return queue.GenderFemale
	case queue.GenderFemale:
		return queue.GenderMale
	}
	return ""
}

// Match attempts to pair the requester with a waiting candidate. The
// requester must already hold an active queue entry. Returns the new
// session, or nil when the pool is exhausted and the requester stays
// queued. Losing a claim race is not an error: the matcher simply moves on
// to the next-ranked candidate.
func (m *Matcher) Match(ctx context.Context, p Profile) (*session.Session, error) {
	wanted := Opposite(p.Gender)
	if wanted == "" {
		return nil, fmt.Errorf("matching: unsupported gender %q", p.Gender)
	}

	candidates, err := m.queue.ListCandidates(ctx, p.UserID, wanted)
	if err != nil {
		return nil, err
	}

	rankCandidates(p, candidates)

	for _, cand := range candidates {
		blocked, err := m.blocks.Blocked(ctx, p.UserID, cand.UserID)
		if err != nil {
			// Fail open: an unavailable relationship service should not
			// stall the whole pool.
			log.Printf("[matcher] block check %s/%s: %v", p.UserID, cand.UserID, err)
		} else if blocked {
			continue
		}

		if elig, err := m.guard.CheckEligibility(ctx, cand.UserID); err != nil {
			log.Printf("[matcher] eligibility %s: %v", cand.UserID, err)
		} else if elig.Verdict == abuse.VerdictRestricted {
			continue
		}

		claimed, err := m.queue.Claim(ctx, p.UserID, cand.UserID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			// Lost the race for this candidate, or our own entry is gone.
			// If we are no longer queued there is nothing left to claim.
			if own, err := m.queue.GetActive(ctx, p.UserID); err == nil && own == nil {
				return nil, nil
			}
			continue
		}

		sess, err := m.sessions.Create(ctx, p.UserID, cand.UserID)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}

	// Pool exhausted; the requester keeps waiting.
	return nil, nil
}

// rankCandidates orders by locality tier, oldest join first inside a tier.
func rankCandidates(p Profile, entries []queue.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		ti, tj := tierOf(p, entries[i]), tierOf(p, entries[j])
		if ti != tj {
			return ti < tj
		}
		return entries[i].JoinedAt < entries[j].JoinedAt
	})
}

// Package session manages pairing sessions: the live, two-party context
// created when the matcher pairs two users, with lifecycle flags and a
// canonical RTC channel name.
package session

import (
	"context"
	"time"
)

// End reasons recorded on a session. A session ends exactly once; the
// reason is set by the first writer and never changes afterwards.
const (
	EndReasonNext = "next"
)

// Session represents a pairing between two matched users.
type Session struct {
	ID        string
	UserA     string
	UserB     string
	Channel   string
	StartedAt int64 // unix seconds
	EndedAt   int64 // unix seconds, 0 while live
	EndReason string

	NextA bool
	NextB bool

	VideoA bool
	VideoB bool
	AudioA bool
	AudioB bool
}

// Live reports whether the session has not yet ended.
func (s *Session) Live() bool { return s.EndedAt == 0 }

// IsParticipant checks whether a user is one of the session's two parties.
func (s *Session) IsParticipant(userID string) bool {
	return userID == s.UserA || userID == s.UserB
}

// Partner returns the other participant's user id, or "" for non-participants.
func (s *Session) Partner(userID string) string {
	switch userID {
	case s.UserA:
		return s.UserB
	case s.UserB:
		return s.UserA
	}
	return ""
}

// Side returns "a" or "b" for a participant, "" otherwise.
func (s *Session) Side(userID string) string {
	switch userID {
	case s.UserA:
		return "a"
	case s.UserB:
		return "b"
	}
	return ""
}

// ChannelName derives the canonical RTC channel for a user pair. It is a
// pure function of the two ids and order-independent, so both sides of a
// match always agree on the channel.
func ChannelName(userA, userB string) string {
	lo, hi := userA, userB
	if lo > hi {
		lo, hi = hi, lo
	}
	return "match_" + lo + "_" + hi
}

// Store is the durable record of pairing sessions.
type Store interface {
	// Create persists a new live session for the two users and indexes it
	// as each user's current live session.
	Create(ctx context.Context, userA, userB string) (*Session, error)

	// Get retrieves a session by id. Returns nil if not found.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// FindLiveByUser returns the user's current live session, or nil.
	FindLiveByUser(ctx context.Context, userID string) (*Session, error)

	// SetNext marks the given side's next flag and ends the session when
	// both flags are set. Returns the resulting state. No-op when already
	// ended.
	SetNext(ctx context.Context, sessionID, side string) (*Session, error)

	// ToggleVideo / ToggleAudio flip the given side's media flag. No-op
	// when the session has ended.
	ToggleVideo(ctx context.Context, sessionID, side string) (*Session, error)
	ToggleAudio(ctx context.Context, sessionID, side string) (*Session, error)

	// End terminates the session with the given reason. Idempotent: an
	// already-ended session keeps its original reason and end time.
	End(ctx context.Context, sessionID, reason string) (*Session, error)

	// CountLive returns the number of currently live sessions.
	CountLive(ctx context.Context) (int64, error)
}

// nowUnix is the clock used for StartedAt/EndedAt, overridable in tests.
var nowUnix = func() int64 { return time.Now().Unix() }

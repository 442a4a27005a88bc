// Package coordinator applies lifecycle transitions to an existing pairing
// session. Only the session's two participants may act on it; mutations on
// an already-ended session return the ended state unchanged so duplicate
// client taps and retries are harmless.
package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/litxtech/mytrabzon-match/internal/session"
)

var (
	// ErrNotFound is returned when the targeted session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrForbidden is returned when the caller is not one of the
	// session's two participants.
	ErrForbidden = errors.New("forbidden: not a session participant")
)

// Action is a client-requested session transition.
type Action string

const (
	ActionNext        Action = "next"
	ActionToggleVideo Action = "toggle_video"
	ActionToggleAudio Action = "toggle_audio"
	ActionEnd         Action = "end"
)

// Valid reports whether the action is one of the supported transitions.
func (a Action) Valid() bool {
	switch a {
	case ActionNext, ActionToggleVideo, ActionToggleAudio, ActionEnd:
		return true
	}
	return false
}

// Coordinator mutates session lifecycle state on behalf of participants.
type Coordinator struct {
	sessions session.Store
}

// New creates a coordinator over the given session store.
func New(sessions session.Store) *Coordinator {
	return &Coordinator{sessions: sessions}
}

// Apply authorizes the caller and dispatches the requested action. The
// returned session reflects the post-action state; for an already-ended
// session that is simply the ended state.
func (c *Coordinator) Apply(ctx context.Context, callerID, sessionID string, action Action) (*session.Session, error) {
	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	if !sess.IsParticipant(callerID) {
		return nil, ErrForbidden
	}
	if !sess.Live() {
		return sess, nil
	}

	side := sess.Side(callerID)
	switch action {
	case ActionNext:
		// The session ends only when the partner has also requested
		// next; until then the caller stays attached.
		return c.sessions.SetNext(ctx, sessionID, side)
	case ActionToggleVideo:
		return c.sessions.ToggleVideo(ctx, sessionID, side)
	case ActionToggleAudio:
		return c.sessions.ToggleAudio(ctx, sessionID, side)
	case ActionEnd:
		return c.sessions.End(ctx, sessionID, session.EndReasonNext)
	}
	return nil, fmt.Errorf("coordinator: unknown action %q", action)
}

package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store guarded by a mutex. Lifecycle
// transitions run under the lock, matching the atomicity of the Redis
// scripts. Intended for tests and single-node development.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	liveBy   map[string]string // user id -> live session id
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		liveBy:   make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, userA, userB string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &Session{
		ID:        uuid.New().String(),
		UserA:     userA,
		UserB:     userB,
		Channel:   ChannelName(userA, userB),
		StartedAt: nowUnix(),
		VideoA:    true,
		VideoB:    true,
		AudioA:    true,
		AudioB:    true,
	}
	s.sessions[sess.ID] = sess
	s.liveBy[userA] = sess.ID
	s.liveBy[userB] = sess.ID
	return sess.clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID].clone(), nil
}

func (s *MemoryStore) FindLiveByUser(_ context.Context, userID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.liveBy[userID]; ok {
		return s.sessions[id].clone(), nil
	}
	return nil, nil
}

func (s *MemoryStore) SetNext(_ context.Context, sessionID, side string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[sessionID]
	if sess == nil || !sess.Live() {
		return sess.clone(), nil
	}
	if side == "a" {
		sess.NextA = true
	} else {
		sess.NextB = true
	}
	if sess.NextA && sess.NextB {
		s.endLocked(sess, EndReasonNext)
	}
	return sess.clone(), nil
}

func (s *MemoryStore) ToggleVideo(_ context.Context, sessionID, side string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[sessionID]
	if sess != nil && sess.Live() {
		if side == "a" {
			sess.VideoA = !sess.VideoA
		} else {
			sess.VideoB = !sess.VideoB
		}
	}
	return sess.clone(), nil
}

func (s *MemoryStore) ToggleAudio(_ context.Context, sessionID, side string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[sessionID]
	if sess != nil && sess.Live() {
		if side == "a" {
			sess.AudioA = !sess.AudioA
		} else {
			sess.AudioB = !sess.AudioB
		}
	}
	return sess.clone(), nil
}

func (s *MemoryStore) End(_ context.Context, sessionID, reason string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[sessionID]
	if sess != nil && sess.Live() {
		s.endLocked(sess, reason)
	}
	return sess.clone(), nil
}

func (s *MemoryStore) CountLive(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sess := range s.sessions {
		if sess.Live() {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) endLocked(sess *Session, reason string) {
	sess.EndedAt = nowUnix()
	sess.EndReason = reason
	delete(s.liveBy, sess.UserA)
	delete(s.liveBy, sess.UserB)
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

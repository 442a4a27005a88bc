package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keySessionPrefix = "ms:session:" // + <session_id> -> Hash
	keyLivePrefix    = "ms:live:"    // + <user_id> -> session id of the user's live session
	keyLiveSet       = "ms:live_sessions"

	// Sessions are short-lived encounters; keys expire well after any
	// client could still reasonably poll them.
	sessionTTL = 24 * time.Hour
)

// RedisStore is a Store backed by Redis. Lifecycle transitions run as Lua
// scripts so that concurrent "next" and "end" calls from both participants
// resolve atomically.
type RedisStore struct {
	rdb          *redis.Client
	nextScript   *redis.Script
	toggleScript *redis.Script
	endScript    *redis.Script
}

// NewRedisStore creates a session store on the given Redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb:          rdb,
		nextScript:   redis.NewScript(nextLua),
		toggleScript: redis.NewScript(toggleLua),
		endScript:    redis.NewScript(endLua),
	}
}

func sessionKey(id string) string  { return keySessionPrefix + id }
func liveKey(userID string) string { return keyLivePrefix + userID }

// Create persists a new live session and the per-user live indexes.
func (s *RedisStore) Create(ctx context.Context, userA, userB string) (*Session, error) {
	id := uuid.New().String()
	now := nowUnix()

	sess := &Session{
		ID:        id,
		UserA:     userA,
		UserB:     userB,
		Channel:   ChannelName(userA, userB),
		StartedAt: now,
	}

	pipe := s.rdb.Pipeline()
	key := sessionKey(id)
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_a":     userA,
		"user_b":     userB,
		"channel":    sess.Channel,
		"started_at": now,
		"ended_at":   0,
		"end_reason": "",
		"next_a":     0,
		"next_b":     0,
		"video_a":    1,
		"video_b":    1,
		"audio_a":    1,
		"audio_b":    1,
	})
	pipe.Expire(ctx, key, sessionTTL)
	pipe.Set(ctx, liveKey(userA), id, sessionTTL)
	pipe.Set(ctx, liveKey(userB), id, sessionTTL)
	pipe.SAdd(ctx, keyLiveSet, id)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

// Get retrieves a session by id. Returns nil if not found.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	result, err := s.rdb.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", sessionID, err)
	}
	if len(result) == 0 {
		return nil, nil
	}
	return fromHash(sessionID, result), nil
}

// FindLiveByUser resolves the user's live-session index. A dangling index
// (session hash expired or already ended) returns nil.
func (s *RedisStore) FindLiveByUser(ctx context.Context, userID string) (*Session, error) {
	id, err := s.rdb.Get(ctx, liveKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: live lookup %s: %w", userID, err)
	}

	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil || !sess.Live() {
		return nil, nil
	}
	return sess, nil
}

// SetNext runs the atomic next transition for one side.
func (s *RedisStore) SetNext(ctx context.Context, sessionID, side string) (*Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil || sess == nil {
		return sess, err
	}

	keys := []string{sessionKey(sessionID), liveKey(sess.UserA), liveKey(sess.UserB), keyLiveSet}
	if _, err := s.nextScript.Run(ctx, s.rdb, keys, side, nowUnix(), sessionID).Int(); err != nil {
		return nil, fmt.Errorf("session: next %s: %w", sessionID, err)
	}
	return s.Get(ctx, sessionID)
}

// ToggleVideo flips the side's video flag.
func (s *RedisStore) ToggleVideo(ctx context.Context, sessionID, side string) (*Session, error) {
	return s.toggle(ctx, sessionID, "video_"+side)
}

// ToggleAudio flips the side's audio flag.
func (s *RedisStore) ToggleAudio(ctx context.Context, sessionID, side string) (*Session, error) {
	return s.toggle(ctx, sessionID, "audio_"+side)
}

func (s *RedisStore) toggle(ctx context.Context, sessionID, field string) (*Session, error) {
	if _, err := s.toggleScript.Run(ctx, s.rdb, []string{sessionKey(sessionID)}, field).Int(); err != nil {
		return nil, fmt.Errorf("session: toggle %s.%s: %w", sessionID, field, err)
	}
	return s.Get(ctx, sessionID)
}

// End terminates the session. Idempotent against duplicate client actions.
func (s *RedisStore) End(ctx context.Context, sessionID, reason string) (*Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil || sess == nil {
		return sess, err
	}

	keys := []string{sessionKey(sessionID), liveKey(sess.UserA), liveKey(sess.UserB), keyLiveSet}
	if _, err := s.endScript.Run(ctx, s.rdb, keys, reason, nowUnix(), sessionID).Int(); err != nil {
		return nil, fmt.Errorf("session: end %s: %w", sessionID, err)
	}
	return s.Get(ctx, sessionID)
}

// CountLive returns the number of live sessions.
func (s *RedisStore) CountLive(ctx context.Context) (int64, error) {
	n, err := s.rdb.SCard(ctx, keyLiveSet).Result()
	if err != nil {
		return 0, fmt.Errorf("session: count live: %w", err)
	}
	return n, nil
}

func fromHash(id string, h map[string]string) *Session {
	startedAt, _ := strconv.ParseInt(h["started_at"], 10, 64)
	endedAt, _ := strconv.ParseInt(h["ended_at"], 10, 64)
	return &Session{
		ID:        id,
		UserA:     h["user_a"],
		UserB:     h["user_b"],
		Channel:   h["channel"],
		StartedAt: startedAt,
		EndedAt:   endedAt,
		EndReason: h["end_reason"],
		NextA:     h["next_a"] == "1",
		NextB:     h["next_b"] == "1",
		VideoA:    h["video_a"] == "1",
		VideoB:    h["video_b"] == "1",
		AudioA:    h["audio_a"] == "1",
		AudioB:    h["audio_b"] == "1",
	}
}

// nextLua marks one side's next flag and ends the session when both sides
// have requested next. Returns 2 if the session had already ended, 1 if this
// call ended it, 0 if it stays live.
const nextLua = `
local key = KEYS[1]

if redis.call('EXISTS', key) == 0 then return -1 end
if redis.call('HGET', key, 'ended_at') ~= '0' then return 2 end

redis.call('HSET', key, 'next_' .. ARGV[1], 1)

local next_a = redis.call('HGET', key, 'next_a')
local next_b = redis.call('HGET', key, 'next_b')

if next_a == '1' and next_b == '1' then
    redis.call('HSET', key, 'ended_at', ARGV[2], 'end_reason', 'next')
    redis.call('DEL', KEYS[2], KEYS[3])
    redis.call('SREM', KEYS[4], ARGV[3])
    return 1
end

return 0
`

// toggleLua flips a media flag unless the session has ended.
const toggleLua = `
local key = KEYS[1]

if redis.call('EXISTS', key) == 0 then return -1 end
if redis.call('HGET', key, 'ended_at') ~= '0' then return 0 end

local v = redis.call('HGET', key, ARGV[1])
if v == '1' then
    redis.call('HSET', key, ARGV[1], 0)
else
    redis.call('HSET', key, ARGV[1], 1)
end
return 1
`

// endLua terminates a session exactly once; the first writer wins and later
// calls leave the recorded reason and end time untouched.
const endLua = `
local key = KEYS[1]

if redis.call('EXISTS', key) == 0 then return -1 end
if redis.call('HGET', key, 'ended_at') ~= '0' then return 0 end

redis.call('HSET', key, 'ended_at', ARGV[2], 'end_reason', ARGV[1])
redis.call('DEL', KEYS[2], KEYS[3])
redis.call('SREM', KEYS[4], ARGV[3])
return 1
`

package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key patterns for the waiting pool.
	keyWaitingPrefix = "mq:waiting:" // + <gender> -> Sorted set, score = join timestamp (ms)
	keyEntryPrefix   = "mq:entry:"   // + <user_id> -> Hash

	// Entry hashes expire so abandoned waiters (clients that crashed
	// without leaving the queue) cannot rot in the pool. The sorted-set
	// member is cleaned up lazily when listing.
	entryTTL = 10 * time.Minute
)

// RedisStore is a Store backed by Redis. The entry hash is the source of
// truth for liveness: an entry is active iff its hash exists.
type RedisStore struct {
	rdb         *redis.Client
	claimScript *redis.Script
}

// NewRedisStore creates a waiting-pool store on the given Redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb:         rdb,
		claimScript: redis.NewScript(claimLua),
	}
}

func waitingKey(gender string) string { return keyWaitingPrefix + gender }
func entryKey(userID string) string   { return keyEntryPrefix + userID }

// Enqueue deactivates any prior entry for the user and inserts a fresh one.
func (s *RedisStore) Enqueue(ctx context.Context, e Entry) error {
	if e.Gender != GenderMale && e.Gender != GenderFemale {
		return errUnsupportedGender(e.Gender)
	}

	now := float64(time.Now().UnixMilli())

	pipe := s.rdb.Pipeline()

	// Drop any prior membership regardless of which pool it was in.
	pipe.ZRem(ctx, waitingKey(GenderMale), e.UserID)
	pipe.ZRem(ctx, waitingKey(GenderFemale), e.UserID)

	pipe.ZAdd(ctx, waitingKey(e.Gender), redis.Z{Score: now, Member: e.UserID})

	key := entryKey(e.UserID)
	pipe.HSet(ctx, key, map[string]interface{}{
		"gender":    e.Gender,
		"city":      e.City,
		"district":  e.District,
		"joined_at": fmt.Sprintf("%.0f", now),
	})
	pipe.Expire(ctx, key, entryTTL)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", e.UserID, err)
	}
	return nil
}

// Dequeue removes the user from the waiting pool. Idempotent.
func (s *RedisStore) Dequeue(ctx context.Context, userID string) error {
	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, waitingKey(GenderMale), userID)
	pipe.ZRem(ctx, waitingKey(GenderFemale), userID)
	pipe.Del(ctx, entryKey(userID))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue: dequeue %s: %w", userID, err)
	}
	return nil
}

// GetActive retrieves the user's active entry. Returns nil if not queued.
func (s *RedisStore) GetActive(ctx context.Context, userID string) (*Entry, error) {
	result, err := s.rdb.HGetAll(ctx, entryKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: get entry %s: %w", userID, err)
	}
	if len(result) == 0 {
		return nil, nil
	}
	return entryFromHash(userID, result), nil
}

// ListCandidates returns active entries of the wanted gender ordered
// oldest-joined-first. Sorted-set members whose entry hash has expired are
// skipped and removed opportunistically.
func (s *RedisStore) ListCandidates(ctx context.Context, excludeUserID, wantedGender string) ([]Entry, error) {
	ids, err := s.rdb.ZRange(ctx, waitingKey(wantedGender), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: list %s: %w", wantedGender, err)
	}

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if id == excludeUserID {
			continue
		}
		result, err := s.rdb.HGetAll(ctx, entryKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: read entry %s: %w", id, err)
		}
		if len(result) == 0 {
			// Stale member, hash already expired.
			s.rdb.ZRem(ctx, waitingKey(wantedGender), id)
			continue
		}
		entries = append(entries, *entryFromHash(id, result))
	}
	return entries, nil
}

// Claim atomically consumes both entries. Returns false if either entry was
// already taken by a concurrent matcher.
func (s *RedisStore) Claim(ctx context.Context, userA, userB string) (bool, error) {
	keys := []string{
		entryKey(userA),
		entryKey(userB),
		waitingKey(GenderMale),
		waitingKey(GenderFemale),
	}
	res, err := s.claimScript.Run(ctx, s.rdb, keys, userA, userB).Int()
	if err != nil {
		return false, fmt.Errorf("queue: claim %s+%s: %w", userA, userB, err)
	}
	return res == 1, nil
}

// Size returns the number of users currently waiting across both pools.
func (s *RedisStore) Size(ctx context.Context) (int64, error) {
	pipe := s.rdb.Pipeline()
	m := pipe.ZCard(ctx, waitingKey(GenderMale))
	f := pipe.ZCard(ctx, waitingKey(GenderFemale))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("queue: size: %w", err)
	}
	return m.Val() + f.Val(), nil
}

func entryFromHash(userID string, h map[string]string) *Entry {
	joinedAt, _ := strconv.ParseFloat(h["joined_at"], 64)
	return &Entry{
		UserID:   userID,
		Gender:   h["gender"],
		City:     h["city"],
		District: h["district"],
		JoinedAt: joinedAt,
	}
}

// claimLua consumes two queue entries all-or-nothing. An entry is active iff
// its hash exists; both hashes must exist or nothing is touched.
const claimLua = `
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if redis.call('EXISTS', KEYS[2]) == 0 then return 0 end

redis.call('DEL', KEYS[1], KEYS[2])
redis.call('ZREM', KEYS[3], ARGV[1], ARGV[2])
redis.call('ZREM', KEYS[4], ARGV[1], ARGV[2])
return 1
`

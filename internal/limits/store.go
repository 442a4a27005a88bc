// Package limits provides PostgreSQL-backed storage for per-user daily
// match counters and restrictions. The counter rolls over when the stored
// reset date differs from the current day; restrictions are upserted, so a
// new restriction overwrites any prior one rather than stacking.
package limits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UserLimit is one user's daily counter and restriction record.
type UserLimit struct {
	UserID            string
	DailyMatches      int
	LastResetDate     time.Time
	IsRestricted      bool
	RestrictionReason string
	RestrictionUntil  *time.Time // nil = indefinite while IsRestricted
}

// MatchesToday returns the counter as of today: a stale reset date counts
// as zero even before the next increment rolls the row over.
func (l *UserLimit) MatchesToday(now time.Time) int {
	if !sameDay(l.LastResetDate, now) {
		return 0
	}
	return l.DailyMatches
}

// RestrictedAt reports whether the restriction is in force at the given
// instant. A nil RestrictionUntil means indefinite.
func (l *UserLimit) RestrictedAt(now time.Time) bool {
	if !l.IsRestricted {
		return false
	}
	return l.RestrictionUntil == nil || l.RestrictionUntil.After(now)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// Store is the durable record of daily counters and restrictions.
type Store interface {
	// Get returns the user's limit row, or a zero-valued row if none exists.
	Get(ctx context.Context, userID string) (*UserLimit, error)

	// IncrementDaily adds one match to today's counter, rolling it to 1
	// when the stored reset date is not today. Returns the new count.
	IncrementDaily(ctx context.Context, userID string) (int, error)

	// SetRestriction upserts a restriction, overwriting any prior record.
	// A nil until restricts indefinitely.
	SetRestriction(ctx context.Context, userID, reason string, until *time.Time) error
}

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a limit store on the given database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get reads the user's row. Missing rows come back zero-valued so callers
// never special-case first-time users.
func (s *PostgresStore) Get(ctx context.Context, userID string) (*UserLimit, error) {
	const query = `
		SELECT daily_matches, last_reset_date, is_restricted,
		       COALESCE(restriction_reason, ''), restriction_until
		FROM user_match_limits
		WHERE user_id = $1`

	l := &UserLimit{UserID: userID}
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&l.DailyMatches, &l.LastResetDate, &l.IsRestricted,
		&l.RestrictionReason, &l.RestrictionUntil,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &UserLimit{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("limits: get %s: %w", userID, err)
	}
	return l, nil
}

// IncrementDaily bumps today's counter in a single upsert so two sessions
// completing near-simultaneously for the same user never lose an increment.
func (s *PostgresStore) IncrementDaily(ctx context.Context, userID string) (int, error) {
	const query = `
		INSERT INTO user_match_limits (user_id, daily_matches, last_reset_date)
		VALUES ($1, 1, CURRENT_DATE)
		ON CONFLICT (user_id) DO UPDATE SET
			daily_matches = CASE
				WHEN user_match_limits.last_reset_date = CURRENT_DATE
				THEN user_match_limits.daily_matches + 1
				ELSE 1
			END,
			last_reset_date = CURRENT_DATE,
			updated_at = NOW()
		RETURNING daily_matches`

	var count int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("limits: increment %s: %w", userID, err)
	}
	return count, nil
}

// SetRestriction overwrites the user's restriction record.
func (s *PostgresStore) SetRestriction(ctx context.Context, userID, reason string, until *time.Time) error {
	const query = `
		INSERT INTO user_match_limits (user_id, is_restricted, restriction_reason, restriction_until)
		VALUES ($1, TRUE, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			is_restricted = TRUE,
			restriction_reason = $2,
			restriction_until = $3,
			updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query, userID, reason, until); err != nil {
		return fmt.Errorf("limits: restrict %s: %w", userID, err)
	}
	return nil
}

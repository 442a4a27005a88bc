// Package report provides PostgreSQL-backed storage for abuse reports filed
// against matched users. Reports are append-only; restriction escalation on
// top of the counts lives in the abuse guard.
package report

import (
	"context"
	"database/sql"
	"fmt"
)

// validReasons is the set of allowed reason codes, matching the CHECK
// constraint on the match_reports table.
var validReasons = map[string]bool{
	"harassment":   true,
	"spam":         true,
	"explicit":     true,
	"fake_profile": true,
	"other":        true,
}

// ValidReason reports whether the reason code is accepted.
func ValidReason(reason string) bool { return validReasons[reason] }

// Report represents a single abuse report to be persisted.
type Report struct {
	ReporterID  string
	ReportedID  string
	SessionID   string // optional, empty when filed outside a session
	Reason      string
	Description string
}

// Store is the append-only record of abuse reports.
type Store interface {
	// Create appends a report. The reason must be a valid reason code.
	Create(ctx context.Context, r *Report) error

	// CountAgainst returns the total number of reports filed against a
	// user, used for the auto-restriction threshold.
	CountAgainst(ctx context.Context, reportedID string) (int, error)
}

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a report store on the given database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts an abuse report. The reason is validated against the
// allowed set before insertion.
func (s *PostgresStore) Create(ctx context.Context, r *Report) error {
	if !validReasons[r.Reason] {
		return fmt.Errorf("report: invalid reason %q", r.Reason)
	}

	const query = `
		INSERT INTO match_reports (reporter_id, reported_id, session_id, reason, description)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		r.ReporterID, r.ReportedID, r.SessionID, r.Reason, r.Description)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountAgainst returns how many reports have been filed against a user.
func (s *PostgresStore) CountAgainst(ctx context.Context, reportedID string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM match_reports
		WHERE reported_id = $1`

	var count int
	if err := s.db.QueryRowContext(ctx, query, reportedID).Scan(&count); err != nil {
		return 0, fmt.Errorf("report: count against %s: %w", reportedID, err)
	}
	return count, nil
}

// Package abuse enforces pairing eligibility: active restrictions, daily
// match limits, and automatic restriction of users who collect too many
// abuse reports.
package abuse

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/litxtech/mytrabzon-match/internal/limits"
	"github.com/litxtech/mytrabzon-match/internal/report"
)

// RestrictionReasonReports is recorded when the report threshold triggers
// an automatic restriction.
const RestrictionReasonReports = "multiple_reports"

// Verdict is the outcome of an eligibility check.
type Verdict int

const (
	VerdictEligible Verdict = iota
	VerdictRestricted
	VerdictLimitExceeded
)

// Eligibility describes whether a user may enter the matching queue and the
// counters behind the decision.
type Eligibility struct {
	Verdict          Verdict
	DailyMatches     int
	DailyLimit       int
	IsRestricted     bool
	RestrictionUntil *time.Time
}

// CanMatch reports whether the user may be paired right now.
func (e *Eligibility) CanMatch() bool { return e.Verdict == VerdictEligible }

// Config holds the guard's thresholds.
type Config struct {
	DailyLimit      int  // max formed sessions per user per day
	LimitEnforced   bool // false disables the daily limit entirely
	ReportThreshold int  // reports against a user before auto-restriction
	RestrictionTTL  time.Duration
}

// Guard performs eligibility checks and restriction escalation.
type Guard struct {
	limits  limits.Store
	reports report.Store
	cfg     Config

	now func() time.Time
}

// NewGuard creates a guard over the given stores.
func NewGuard(limitStore limits.Store, reportStore report.Store, cfg Config) *Guard {
	return &Guard{
		limits:  limitStore,
		reports: reportStore,
		cfg:     cfg,
		now:     time.Now,
	}
}

// CheckEligibility decides whether a user may enter the queue. Restrictions
// take precedence over the daily limit; the limit applies only while
// enforcement is switched on.
func (g *Guard) CheckEligibility(ctx context.Context, userID string) (*Eligibility, error) {
	l, err := g.limits.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := g.now()
	e := &Eligibility{
		Verdict:          VerdictEligible,
		DailyMatches:     l.MatchesToday(now),
		DailyLimit:       g.cfg.DailyLimit,
		IsRestricted:     l.RestrictedAt(now),
		RestrictionUntil: l.RestrictionUntil,
	}

	if e.IsRestricted {
		e.Verdict = VerdictRestricted
		return e, nil
	}
	if g.cfg.LimitEnforced && e.DailyMatches >= g.cfg.DailyLimit {
		e.Verdict = VerdictLimitExceeded
	}
	return e, nil
}

// IncrementDailyMatches records one formed session for the user. Called
// exactly once per participant per session.
func (g *Guard) IncrementDailyMatches(ctx context.Context, userID string) error {
	count, err := g.limits.IncrementDaily(ctx, userID)
	if err != nil {
		return err
	}
	log.Printf("[abuse] daily matches for %s: %d", userID, count)
	return nil
}

// FileReport appends an abuse report and, when the cumulative count against
// the reported user reaches the threshold, upserts a fixed-duration
// restriction (overwriting any prior restriction rather than stacking).
// Returns whether a restriction was applied by this call.
func (g *Guard) FileReport(ctx context.Context, r *report.Report) (bool, error) {
	if err := g.reports.Create(ctx, r); err != nil {
		return false, err
	}

	count, err := g.reports.CountAgainst(ctx, r.ReportedID)
	if err != nil {
		return false, fmt.Errorf("abuse: count reports: %w", err)
	}
	if count < g.cfg.ReportThreshold {
		return false, nil
	}

	until := g.now().Add(g.cfg.RestrictionTTL)
	if err := g.limits.SetRestriction(ctx, r.ReportedID, RestrictionReasonReports, &until); err != nil {
		return false, fmt.Errorf("abuse: restrict: %w", err)
	}

	log.Printf("[abuse] restricted %s until %s (%d reports)",
		r.ReportedID, until.Format(time.RFC3339), count)
	return true, nil
}

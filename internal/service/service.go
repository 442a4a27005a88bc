// Package service exposes the public matching operations: queue entry and
// exit, match discovery by polling, session lifecycle updates, abuse
// reporting, limit checks, and RTC credential issuance. It composes the
// matcher, coordinator, abuse guard, and token issuer over the shared
// stores.
//
// Pairing happens synchronously inside JoinQueue and CheckMatch; there is
// no background worker and clients discover matches by polling.
package service

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/litxtech/mytrabzon-match/internal/abuse"
	"github.com/litxtech/mytrabzon-match/internal/coordinator"
	"github.com/litxtech/mytrabzon-match/internal/matching"
	"github.com/litxtech/mytrabzon-match/internal/messaging"
	"github.com/litxtech/mytrabzon-match/internal/metrics"
	"github.com/litxtech/mytrabzon-match/internal/queue"
	"github.com/litxtech/mytrabzon-match/internal/ratelimit"
	"github.com/litxtech/mytrabzon-match/internal/report"
	"github.com/litxtech/mytrabzon-match/internal/rtctoken"
	"github.com/litxtech/mytrabzon-match/internal/session"
)

// RateLimiter throttles the abuse-prone operations per user.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// MatchService orchestrates the matching core's public operations.
type MatchService struct {
	queue    queue.Store
	sessions session.Store
	matcher  *matching.Matcher
	coord    *coordinator.Coordinator
	guard    *abuse.Guard
	issuer   *rtctoken.Issuer
	limiter  RateLimiter
	events   messaging.Publisher
}

// New assembles the service. The limiter and publisher may be the no-op
// implementations when Redis rate limiting or NATS are not wired.
func New(
	q queue.Store,
	sessions session.Store,
	matcher *matching.Matcher,
	coord *coordinator.Coordinator,
	guard *abuse.Guard,
	issuer *rtctoken.Issuer,
	limiter RateLimiter,
	events messaging.Publisher,
) *MatchService {
	return &MatchService{
		queue:    q,
		sessions: sessions,
		matcher:  matcher,
		coord:    coord,
		guard:    guard,
		issuer:   issuer,
		limiter:  limiter,
		events:   events,
	}
}

// JoinResult is the outcome of JoinQueue.
type JoinResult struct {
	Matched bool
	Session *session.Session
}

// MatchStatus is the outcome of CheckMatch.
type MatchStatus struct {
	Matched bool
	Session *session.Session
}

// DailyLimitStatus reports a user's counters for CheckDailyLimit.
type DailyLimitStatus struct {
	DailyMatches int
	DailyLimit   int
	IsRestricted bool
	CanMatch     bool
}

// JoinQueue validates the caller's profile, checks eligibility, enqueues
// them, and synchronously attempts a pairing. A caller who already has a
// live session gets that session back instead of re-entering the queue, so
// no user is ever in two live sessions.
func (s *MatchService) JoinQueue(ctx context.Context, p matching.Profile) (*JoinResult, error) {
	if p.UserID == "" {
		return nil, ErrUnauthorized
	}
	// Fail fast on an unsupported gender before touching the queue.
	if matching.Opposite(p.Gender) == "" {
		return nil, ErrInvalidProfile
	}

	if ok, _ := s.limiter.Allow(ctx, p.UserID, ratelimit.RuleJoin); !ok {
		return nil, ErrRateLimited
	}

	if live, err := s.sessions.FindLiveByUser(ctx, p.UserID); err != nil {
		return nil, err
	} else if live != nil {
		return &JoinResult{Matched: true, Session: live}, nil
	}

	elig, err := s.guard.CheckEligibility(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	switch elig.Verdict {
	case abuse.VerdictRestricted:
		return nil, ErrRestricted
	case abuse.VerdictLimitExceeded:
		return nil, ErrLimitExceeded
	}

	if err := s.queue.Enqueue(ctx, queue.Entry{
		UserID:   p.UserID,
		Gender:   p.Gender,
		City:     p.City,
		District: p.District,
	}); err != nil {
		return nil, err
	}

	sess, err := s.attemptMatch(ctx, p)
	if err != nil {
		return nil, err
	}
	s.refreshGauges(ctx)

	if sess == nil {
		return &JoinResult{Matched: false}, nil
	}
	return &JoinResult{Matched: true, Session: sess}, nil
}

// LeaveQueue cancels an unmatched wait. Idempotent.
func (s *MatchService) LeaveQueue(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUnauthorized
	}
	if err := s.queue.Dequeue(ctx, userID); err != nil {
		return err
	}
	s.refreshGauges(ctx)
	return nil
}

// CheckMatch reports whether the caller has been paired. With a session id
// it reads that session; otherwise it looks for the caller's live session
// and, while the caller is still queued, re-runs the matcher. Every poll is
// an independent, idempotent pairing attempt.
func (s *MatchService) CheckMatch(ctx context.Context, userID, sessionID string) (*MatchStatus, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}

	if sessionID != "" {
		sess, err := s.sessions.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			return nil, ErrNotFound
		}
		if !sess.IsParticipant(userID) {
			return nil, ErrForbidden
		}
		return &MatchStatus{Matched: true, Session: sess}, nil
	}

	if live, err := s.sessions.FindLiveByUser(ctx, userID); err != nil {
		return nil, err
	} else if live != nil {
		return &MatchStatus{Matched: true, Session: live}, nil
	}

	entry, err := s.queue.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return &MatchStatus{Matched: false}, nil
	}

	sess, err := s.attemptMatch(ctx, matching.Profile{
		UserID:   entry.UserID,
		Gender:   entry.Gender,
		City:     entry.City,
		District: entry.District,
	})
	if err != nil {
		return nil, err
	}
	s.refreshGauges(ctx)

	if sess == nil {
		return &MatchStatus{Matched: false}, nil
	}
	return &MatchStatus{Matched: true, Session: sess}, nil
}

// UpdateSession applies a lifecycle action on behalf of the caller. A
// stale or already-ended session returns its ended state rather than an
// error, tolerating duplicate client actions.
func (s *MatchService) UpdateSession(ctx context.Context, userID, sessionID string, action coordinator.Action) (*session.Session, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	if !action.Valid() {
		return nil, ErrInvalidAction
	}

	// Pre-read so an end caused by this call publishes exactly once.
	pre, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess, err := s.coord.Apply(ctx, userID, sessionID, action)
	if err != nil {
		return nil, err
	}

	if pre != nil && pre.Live() && !sess.Live() {
		s.publishEnded(sess)
		s.refreshGauges(ctx)
	}
	return sess, nil
}

// ReportUser files an abuse report against another user. Crossing the
// report threshold restricts the reported user.
func (s *MatchService) ReportUser(ctx context.Context, reporterID, reportedID, sessionID, reason, description string) error {
	if reporterID == "" {
		return ErrUnauthorized
	}
	if reportedID == "" || reportedID == reporterID || !report.ValidReason(reason) {
		return ErrInvalidReason
	}

	if ok, _ := s.limiter.Allow(ctx, reporterID, ratelimit.RuleReport); !ok {
		return ErrRateLimited
	}

	restricted, err := s.guard.FileReport(ctx, &report.Report{
		ReporterID:  reporterID,
		ReportedID:  reportedID,
		SessionID:   sessionID,
		Reason:      reason,
		Description: description,
	})
	if err != nil {
		return err
	}

	metrics.ReportsTotal.WithLabelValues(strconv.FormatBool(restricted)).Inc()

	if err := s.events.ReportFiled(messaging.ReportFiledEvent{
		ReporterID: reporterID,
		ReportedID: reportedID,
		SessionID:  sessionID,
		Reason:     reason,
		Restricted: restricted,
	}); err != nil {
		log.Printf("[service] publish report event: %v", err)
	}
	return nil
}

// CheckDailyLimit reports the caller's counters and whether they can match.
func (s *MatchService) CheckDailyLimit(ctx context.Context, userID string) (*DailyLimitStatus, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	elig, err := s.guard.CheckEligibility(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &DailyLimitStatus{
		DailyMatches: elig.DailyMatches,
		DailyLimit:   elig.DailyLimit,
		IsRestricted: elig.IsRestricted,
		CanMatch:     elig.CanMatch(),
	}, nil
}

// GenerateToken issues an RTC join credential authorized against the
// caller's live session.
func (s *MatchService) GenerateToken(ctx context.Context, userID, channelName string, uid uint32) (*rtctoken.Token, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	if ok, _ := s.limiter.Allow(ctx, userID, ratelimit.RuleToken); !ok {
		return nil, ErrRateLimited
	}

	tok, err := s.issuer.Generate(ctx, userID, channelName, uid)
	if errors.Is(err, rtctoken.ErrNoLiveSession) {
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, err
	}

	mode := "signed"
	if tok.Degraded {
		mode = "degraded"
	}
	metrics.TokensIssuedTotal.WithLabelValues(mode).Inc()
	return tok, nil
}

// attemptMatch runs one pairing attempt and, on success, performs the
// non-critical side effects: daily counters, notifications, metrics. None
// of those may fail a formed pairing, so each logs and continues.
func (s *MatchService) attemptMatch(ctx context.Context, p matching.Profile) (*session.Session, error) {
	start := time.Now()
	sess, err := s.matcher.Match(ctx, p)
	metrics.MatchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if sess == nil {
		metrics.MatchesTotal.WithLabelValues("queued").Inc()
		return nil, nil
	}

	metrics.MatchesTotal.WithLabelValues("matched").Inc()

	for _, uid := range []string{sess.UserA, sess.UserB} {
		if err := s.guard.IncrementDailyMatches(ctx, uid); err != nil {
			log.Printf("[service] increment daily matches %s: %v", uid, err)
		}
		if err := s.events.MatchFound(uid, messaging.MatchFoundEvent{
			SessionID: sess.ID,
			PartnerID: sess.Partner(uid),
			Channel:   sess.Channel,
		}); err != nil {
			log.Printf("[service] publish match event %s: %v", uid, err)
		}
	}

	log.Printf("[service] matched %s with %s (session %s)", sess.UserA, sess.UserB, sess.ID)
	return sess, nil
}

func (s *MatchService) publishEnded(sess *session.Session) {
	for _, uid := range []string{sess.UserA, sess.UserB} {
		if err := s.events.SessionEnded(uid, messaging.SessionEndedEvent{
			SessionID: sess.ID,
			Reason:    sess.EndReason,
		}); err != nil {
			log.Printf("[service] publish end event %s: %v", uid, err)
		}
	}
}

// refreshGauges updates the pool and session gauges. Best effort.
func (s *MatchService) refreshGauges(ctx context.Context) {
	if n, err := s.queue.Size(ctx); err == nil {
		metrics.QueueSize.Set(float64(n))
	}
	if n, err := s.sessions.CountLive(ctx); err == nil {
		metrics.SessionsLive.Set(float64(n))
	}
}

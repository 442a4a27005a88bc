package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/litxtech/mytrabzon-match/internal/abuse"
	"github.com/litxtech/mytrabzon-match/internal/coordinator"
	"github.com/litxtech/mytrabzon-match/internal/limits"
	"github.com/litxtech/mytrabzon-match/internal/matching"
	"github.com/litxtech/mytrabzon-match/internal/messaging"
	"github.com/litxtech/mytrabzon-match/internal/queue"
	"github.com/litxtech/mytrabzon-match/internal/ratelimit"
	"github.com/litxtech/mytrabzon-match/internal/report"
	"github.com/litxtech/mytrabzon-match/internal/rtctoken"
	"github.com/litxtech/mytrabzon-match/internal/service"
	"github.com/litxtech/mytrabzon-match/internal/session"
)

type memLimits struct {
	mu   sync.Mutex
	rows map[string]*limits.UserLimit
}

func (m *memLimits) Get(_ context.Context, userID string) (*limits.UserLimit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.rows[userID]; ok {
		c := *l
		return &c, nil
	}
	return &limits.UserLimit{UserID: userID}, nil
}

func (m *memLimits) IncrementDaily(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rows[userID]
	if !ok {
		l = &limits.UserLimit{UserID: userID}
		m.rows[userID] = l
	}
	l.DailyMatches++
	l.LastResetDate = time.Now()
	return l.DailyMatches, nil
}

func (m *memLimits) SetRestriction(_ context.Context, userID, reason string, until *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rows[userID]
	if !ok {
		l = &limits.UserLimit{UserID: userID}
		m.rows[userID] = l
	}
	l.IsRestricted = true
	l.RestrictionReason = reason
	l.RestrictionUntil = until
	return nil
}

type memReports struct {
	mu      sync.Mutex
	reports []report.Report
}

func (m *memReports) Create(_ context.Context, r *report.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, *r)
	return nil
}

func (m *memReports) CountAgainst(_ context.Context, reportedID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.reports {
		if r.ReportedID == reportedID {
			n++
		}
	}
	return n, nil
}

type allowAll struct{}

func (allowAll) Allow(context.Context, string, ratelimit.Rule) (bool, error) { return true, nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	q := queue.NewMemoryStore()
	sessions := session.NewMemoryStore()
	guard := abuse.NewGuard(&memLimits{rows: map[string]*limits.UserLimit{}}, &memReports{}, abuse.Config{
		DailyLimit:      50,
		LimitEnforced:   true,
		ReportThreshold: 3,
		RestrictionTTL:  7 * 24 * time.Hour,
	})
	svc := service.New(
		q, sessions,
		matching.NewMatcher(q, sessions, matching.NoBlocks{}, guard),
		coordinator.New(sessions),
		guard,
		rtctoken.NewIssuer("app-id", "secret-cert", time.Hour, sessions),
		allowAll{},
		messaging.NopPublisher{},
	)
	return NewRouter(NewHandler(svc))
}

func doJSON(t *testing.T, h http.Handler, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireUser(t *testing.T) {
	h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/match/check", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous request: status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/match/check", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("identified request: status = %d, want 200", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestJoinAndPollFlow(t *testing.T) {
	h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/match/queue/join", "alice",
		joinQueueRequest{Gender: queue.GenderFemale, City: "trabzon"})
	if rec.Code != http.StatusOK {
		t.Fatalf("join(alice): status = %d, body %s", rec.Code, rec.Body.String())
	}
	var join joinQueueResponse
	json.Unmarshal(rec.Body.Bytes(), &join)
	if join.Matched || join.QueueID != "alice" {
		t.Errorf("alice should be queued: %+v", join)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/match/queue/join", "bob",
		joinQueueRequest{Gender: queue.GenderMale, City: "trabzon"})
	json.Unmarshal(rec.Body.Bytes(), &join)
	if !join.Matched || join.Session == nil {
		t.Fatalf("bob should match alice: %+v", join)
	}
	if join.Session.EndedAt != nil {
		t.Error("live session must serialize ended_at as null")
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/match/check", "alice", nil)
	var check checkMatchResponse
	json.Unmarshal(rec.Body.Bytes(), &check)
	if !check.Matched || check.Session.ID != join.Session.ID {
		t.Errorf("alice's poll should find session %s: %+v", join.Session.ID, check)
	}

	// Ending the session via the HTTP surface.
	rec = doJSON(t, h, http.MethodPost, "/v1/match/sessions/"+join.Session.ID, "alice",
		updateSessionRequest{Action: "end"})
	if rec.Code != http.StatusOK {
		t.Fatalf("end: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var upd map[string]*sessionView
	json.Unmarshal(rec.Body.Bytes(), &upd)
	if upd["session"].EndedAt == nil {
		t.Error("ended session must carry ended_at")
	}
}

func TestErrorMapping(t *testing.T) {
	h := newTestRouter(t)

	tests := []struct {
		name   string
		run    func() *httptest.ResponseRecorder
		status int
	}{
		{
			"invalid gender",
			func() *httptest.ResponseRecorder {
				return doJSON(t, h, http.MethodPost, "/v1/match/queue/join", "alice",
					joinQueueRequest{Gender: "unknown"})
			},
			http.StatusBadRequest,
		},
		{
			"malformed body",
			func() *httptest.ResponseRecorder {
				req := httptest.NewRequest(http.MethodPost, "/v1/match/queue/join",
					bytes.NewBufferString("{not json"))
				req.Header.Set("X-User-ID", "alice")
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, req)
				return rec
			},
			http.StatusBadRequest,
		},
		{
			"unknown session",
			func() *httptest.ResponseRecorder {
				return doJSON(t, h, http.MethodGet, "/v1/match/check?session_id=missing", "alice", nil)
			},
			http.StatusNotFound,
		},
		{
			"invalid action",
			func() *httptest.ResponseRecorder {
				return doJSON(t, h, http.MethodPost, "/v1/match/sessions/s1", "alice",
					updateSessionRequest{Action: "shout"})
			},
			http.StatusBadRequest,
		},
		{
			"self report",
			func() *httptest.ResponseRecorder {
				return doJSON(t, h, http.MethodPost, "/v1/match/report", "alice",
					reportUserRequest{ReportedUserID: "alice", Reason: "spam"})
			},
			http.StatusBadRequest,
		},
		{
			"token without live session",
			func() *httptest.ResponseRecorder {
				return doJSON(t, h, http.MethodPost, "/v1/match/token", "alice",
					generateTokenRequest{ChannelName: "match_a_b", UID: 1})
			},
			http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.run()
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("error body is not JSON: %v", err)
			}
			if body["error"] == "" {
				t.Error("error body must carry an error message")
			}
		})
	}
}

func TestReportThresholdOverHTTP(t *testing.T) {
	h := newTestRouter(t)

	for i := 1; i <= 3; i++ {
		rec := doJSON(t, h, http.MethodPost, "/v1/match/report", fmt.Sprintf("reporter-%d", i),
			reportUserRequest{ReportedUserID: "bad", Reason: "harassment"})
		if rec.Code != http.StatusOK {
			t.Fatalf("report %d: status = %d", i, rec.Code)
		}
	}

	rec := doJSON(t, h, http.MethodPost, "/v1/match/queue/join", "bad",
		joinQueueRequest{Gender: queue.GenderMale})
	if rec.Code != http.StatusForbidden {
		t.Errorf("restricted join: status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/match/limit", "bad", nil)
	var limit dailyLimitResponse
	json.Unmarshal(rec.Body.Bytes(), &limit)
	if !limit.IsRestricted || limit.CanMatch {
		t.Errorf("limit status should reflect the restriction: %+v", limit)
	}
}

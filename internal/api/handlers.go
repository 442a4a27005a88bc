package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/litxtech/mytrabzon-match/internal/coordinator"
	"github.com/litxtech/mytrabzon-match/internal/matching"
	"github.com/litxtech/mytrabzon-match/internal/service"
	"github.com/litxtech/mytrabzon-match/internal/session"
)

type ctxKey int

const userIDKey ctxKey = 0

// requireUser extracts the gateway-verified user id and rejects anonymous
// requests.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing user identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// sessionView is the wire representation of a pairing session.
type sessionView struct {
	ID          string `json:"id"`
	UserA       string `json:"user_a"`
	UserB       string `json:"user_b"`
	ChannelName string `json:"channel_name"`
	StartedAt   int64  `json:"started_at"`
	EndedAt     *int64 `json:"ended_at"` // null while live
	EndReason   string `json:"end_reason,omitempty"`
	NextA       bool   `json:"next_a"`
	NextB       bool   `json:"next_b"`
	VideoA      bool   `json:"video_a"`
	VideoB      bool   `json:"video_b"`
	AudioA      bool   `json:"audio_a"`
	AudioB      bool   `json:"audio_b"`
}

func viewOf(s *session.Session) *sessionView {
	if s == nil {
		return nil
	}
	v := &sessionView{
		ID:          s.ID,
		UserA:       s.UserA,
		UserB:       s.UserB,
		ChannelName: s.Channel,
		StartedAt:   s.StartedAt,
		EndReason:   s.EndReason,
		NextA:       s.NextA,
		NextB:       s.NextB,
		VideoA:      s.VideoA,
		VideoB:      s.VideoB,
		AudioA:      s.AudioA,
		AudioB:      s.AudioB,
	}
	if s.EndedAt != 0 {
		ended := s.EndedAt
		v.EndedAt = &ended
	}
	return v
}

type joinQueueRequest struct {
	Gender   string `json:"gender"`
	City     string `json:"city"`
	District string `json:"district"`
}

type joinQueueResponse struct {
	Matched bool         `json:"matched"`
	QueueID string       `json:"queue_id,omitempty"`
	Session *sessionView `json:"session,omitempty"`
}

// JoinQueue handles POST /v1/match/queue/join.
func (h *Handler) JoinQueue(w http.ResponseWriter, r *http.Request) {
	var req joinQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.svc.JoinQueue(r.Context(), matching.Profile{
		UserID:   callerID(r),
		Gender:   req.Gender,
		City:     req.City,
		District: req.District,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := joinQueueResponse{Matched: res.Matched, Session: viewOf(res.Session)}
	if !res.Matched {
		// Queue entries are keyed by user id: one active entry per user.
		resp.QueueID = callerID(r)
	}
	writeJSON(w, http.StatusOK, resp)
}

// LeaveQueue handles POST /v1/match/queue/leave.
func (h *Handler) LeaveQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.LeaveQueue(r.Context(), callerID(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type checkMatchResponse struct {
	Matched bool         `json:"matched"`
	Session *sessionView `json:"session,omitempty"`
}

// CheckMatch handles GET /v1/match/check.
func (h *Handler) CheckMatch(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.CheckMatch(r.Context(), callerID(r), r.URL.Query().Get("session_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkMatchResponse{
		Matched: status.Matched,
		Session: viewOf(status.Session),
	})
}

type updateSessionRequest struct {
	Action string `json:"action"`
}

// UpdateSession handles POST /v1/match/sessions/{sessionID}.
func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.svc.UpdateSession(r.Context(), callerID(r),
		chi.URLParam(r, "sessionID"), coordinator.Action(req.Action))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*sessionView{"session": viewOf(sess)})
}

type reportUserRequest struct {
	ReportedUserID string `json:"reported_user_id"`
	SessionID      string `json:"session_id"`
	Reason         string `json:"reason"`
	Description    string `json:"description"`
}

// ReportUser handles POST /v1/match/report.
func (h *Handler) ReportUser(w http.ResponseWriter, r *http.Request) {
	var req reportUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.svc.ReportUser(r.Context(), callerID(r),
		req.ReportedUserID, req.SessionID, req.Reason, req.Description)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type dailyLimitResponse struct {
	DailyMatches int  `json:"daily_matches"`
	DailyLimit   int  `json:"daily_limit"`
	IsRestricted bool `json:"is_restricted"`
	CanMatch     bool `json:"can_match"`
}

// CheckDailyLimit handles GET /v1/match/limit.
func (h *Handler) CheckDailyLimit(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.CheckDailyLimit(r.Context(), callerID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dailyLimitResponse{
		DailyMatches: status.DailyMatches,
		DailyLimit:   status.DailyLimit,
		IsRestricted: status.IsRestricted,
		CanMatch:     status.CanMatch,
	})
}

type generateTokenRequest struct {
	ChannelName string `json:"channel_name"`
	UID         uint32 `json:"uid"`
}

type generateTokenResponse struct {
	Token       string `json:"token"`
	ChannelName string `json:"channel_name"`
	UID         uint32 `json:"uid"`
	AppID       string `json:"app_id"`
}

// GenerateToken handles POST /v1/match/token.
func (h *Handler) GenerateToken(w http.ResponseWriter, r *http.Request) {
	var req generateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tok, err := h.svc.GenerateToken(r.Context(), callerID(r), req.ChannelName, req.UID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, generateTokenResponse{
		Token:       tok.Token,
		ChannelName: tok.Channel,
		UID:         tok.UID,
		AppID:       tok.AppID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps the service error taxonomy onto HTTP status codes.
// Anything outside the taxonomy is a storage failure and stays opaque.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrInvalidProfile),
		errors.Is(err, service.ErrInvalidAction),
		errors.Is(err, service.ErrInvalidReason):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrRestricted),
		errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrLimitExceeded),
		errors.Is(err, service.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("[api] internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Package metrics provides Prometheus instrumentation for the matchserver.
// It exposes gauges for queue and session counts, counters for pairing
// outcomes, and a histogram for match-attempt latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueSize tracks the current number of users in the waiting pool.
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "match_queue_size",
		Help: "Current number of users in the matching queue",
	})

	// SessionsLive tracks the current number of live pairing sessions.
	SessionsLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "match_sessions_live",
		Help: "Current number of live pairing sessions",
	})

	// MatchesTotal counts pairing outcomes, labeled by result:
	// "matched", "queued", or "rejected".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "match_attempts_total",
		Help: "Total number of pairing attempts",
	}, []string{"result"}) // result = "matched", "queued", "rejected"

	// MatchDuration records time spent inside one pairing attempt.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "match_attempt_duration_seconds",
		Help:    "Time spent inside one pairing attempt",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// ReportsTotal counts filed abuse reports, labeled by whether the
	// report triggered an automatic restriction.
	ReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "match_reports_total",
		Help: "Total number of abuse reports filed",
	}, []string{"restricted"}) // restricted = "true", "false"

	// TokensIssuedTotal counts issued RTC tokens, labeled by mode.
	TokensIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "match_rtc_tokens_issued_total",
		Help: "Total number of RTC tokens issued",
	}, []string{"mode"}) // mode = "signed", "degraded"
)

func init() {
	prometheus.MustRegister(
		QueueSize,
		SessionsLive,
		MatchesTotal,
		MatchDuration,
		ReportsTotal,
		TokensIssuedTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Package metrics exposes the Prometheus collectors of the interview service
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intervue_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intervue_session_transitions_total",
			Help: "Session status transitions applied",
		},
		[]string{"from", "to"},
	)

	TransitionNoops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intervue_session_transition_noops_total",
			Help: "Transition requests that found the session already at or past the target",
		},
		[]string{"to"},
	)

	TranscriptAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intervue_transcript_appends_total",
			Help: "Transcript turns appended",
		},
		[]string{"role"},
	)

	SequenceConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intervue_transcript_sequence_conflicts_total",
			Help: "Sequence number collisions resolved by retry",
		},
	)

	FeedbackRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intervue_feedback_runs_total",
			Help: "Feedback computations by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	FeedbackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intervue_feedback_duration_seconds",
			Help:    "Analysis backend latency per tier",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"tier", "backend"},
	)

	OverallScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "intervue_feedback_overall_score",
			Help:    "Distribution of basic overall scores",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	RetentionPurged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intervue_retention_purged_total",
			Help: "Rows removed or anonymized by the retention sweeper",
		},
		[]string{"entity"},
	)

	IdleSessionsReaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intervue_idle_sessions_reaped_total",
			Help: "Idle ACTIVE sessions closed by the reaper",
		},
		[]string{"outcome"},
	)

	WebsocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "intervue_websocket_clients",
			Help: "Connected real-time transport clients",
		},
	)
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(SessionTransitions)
		prometheus.MustRegister(TransitionNoops)
		prometheus.MustRegister(TranscriptAppends)
		prometheus.MustRegister(SequenceConflicts)
		prometheus.MustRegister(FeedbackRuns)
		prometheus.MustRegister(FeedbackDuration)
		prometheus.MustRegister(OverallScore)
		prometheus.MustRegister(RetentionPurged)
		prometheus.MustRegister(IdleSessionsReaped)
		prometheus.MustRegister(WebsocketClients)
	})
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request latency labelled by the matched chi route pattern
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}

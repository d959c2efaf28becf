// Package metrics exposes Prometheus counters for the session engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_host_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_host_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_submissions_total",
			Help: "Submission attempts by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_uploads_total",
			Help: "Payload uploads by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	AutosaveFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assessment_autosave_failures_total",
			Help: "Autosave writes that failed",
		},
	)

	PlaybackRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assessment_playback_rejections_total",
			Help: "Play requests rejected by the playback limit",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "assessment_active_sessions",
			Help: "Sessions currently attached to a stream",
		},
	)
)

// Init registers every collector with the default registry.
func Init() {
	prometheus.MustRegister(
		RequestCounter,
		RequestDuration,
		SubmissionsTotal,
		UploadsTotal,
		AutosaveFailures,
		PlaybackRejections,
		ActiveSessions,
	)
}

// Trigger returns the submission trigger label.
func Trigger(forced bool) string {
	if forced {
		return "forced"
	}
	return "voluntary"
}

func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(c.Writer.Status()),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(time.Since(start).Seconds())
	}
}

func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

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
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"method", "endpoint"},
	)

	// SessionsTotal counts session lifecycle transitions by outcome
	// (created, restored, completed, abandoned).
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_sessions_total",
			Help: "Exam session lifecycle transitions",
		},
		[]string{"outcome"},
	)

	// StoreWriteFailures counts swallowed persistence failures by operation.
	StoreWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_store_write_failures_total",
			Help: "Session store writes that failed and were logged",
		},
		[]string{"op"},
	)

	AnswersQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_answers_queued_total",
			Help: "Answer writes handed to the durable retry queue",
		},
	)
)

// Init registers all collectors with the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(RequestCounter, RequestDuration, SessionsTotal, StoreWriteFailures, AnswersQueued)
}

func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()

		RequestDuration.WithLabelValues(c.Request.Method, endpoint).
			Observe(time.Since(start).Seconds())
	}
}

func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

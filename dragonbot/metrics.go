package dragonbot

import (
	"strconv"
	"sync"
	"time"

	"github.com/DragonSenseiGuy/dragon-bot/quota"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "dragonbot"

// Command/interaction Prometheus metrics.
var (
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_total",
			Help:      "Total number of slash commands handled",
		},
		[]string{"command", "method"},
	)

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "command_duration_seconds",
			Help:      "Slash command handling duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"command"},
	)

	commandPanicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "command_panics_total",
			Help:      "Total number of recovered panics while handling interactions",
		},
	)

	discordEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "discord_gateway_events_total",
			Help:      "Discord gateway connect/disconnect events",
		},
		[]string{"event"},
	)

	externalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "external_requests_total",
			Help:      "Total number of requests to third-party APIs",
		},
		[]string{"api", "status"},
	)

	externalRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "external_request_duration_seconds",
			Help:      "Third-party API request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"api"},
	)

	xkcdCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "xkcd_cache_total",
			Help:      "xkcd comic cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	superstarsRevertedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "superstars_reverted_total",
			Help:      "Expired superstar nicknames reverted by the scheduler",
		},
		[]string{"status"},
	)
)

// HTTP Prometheus metrics, shared by the admin API and webhook server.
var (
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"server", "method", "path", "status"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"server", "method", "path", "status"},
	)
)

var registerMetricsOnce sync.Once

// RegisterMetrics registers the bot's collectors (including the quota
// counter's) with the default prometheus registry. Only the first call
// has any effect.
func RegisterMetrics() {
	registerMetricsOnce.Do(
		func() {
			prometheus.MustRegister(
				commandsTotal,
				commandDuration,
				commandPanicsTotal,
				discordEventsTotal,
				externalRequestsTotal,
				externalRequestDuration,
				xkcdCacheTotal,
				superstarsRevertedTotal,
				httpRequestDuration,
				httpRequestsTotal,
			)
			quota.RegisterMetrics(prometheus.DefaultRegisterer)
		},
	)
}

// metricMiddleware records HTTP request duration and count, labeled by
// the matched route rather than the raw path.
func metricMiddleware(server string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestDuration.WithLabelValues(
			server,
			c.Request.Method,
			path,
			status,
		).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(server, c.Request.Method, path, status).Inc()
	}
}

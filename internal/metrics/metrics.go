package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SignalConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_signal_connections",
		Help: "Current number of connected signalling clients",
	})
	Rooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_rooms",
		Help: "Current number of live rooms",
	})
	SignalsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_signals_relayed_total",
		Help: "Connection-setup messages forwarded to their target",
	}, []string{"type"})
	RelayMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "huddle_relay_misses_total",
		Help: "Connection-setup messages dropped because sender and target no longer share a room",
	})
	ChatMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "huddle_chat_messages_total",
		Help: "Chat messages broadcast",
	})
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "huddle_signals_rate_limited_total",
		Help: "Room intents and relays rejected by the per-connection limiter",
	})
	DroppedFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_dropped_frames_total",
		Help: "Outbound frames not delivered, by backpressure action",
	}, []string{"action"})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		SignalConnections, Rooms, SignalsRelayed, RelayMisses, ChatMessages, RateLimited, DroppedFrames,
		HTTPRequestsTotal, HTTPRequestDuration,
	)
}

// GinMiddleware records basic request metrics for Prometheus to scrape.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HTTPRequestsTotal.With(labels).Inc()
		HTTPRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}

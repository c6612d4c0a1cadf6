package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mining-api/internal/monitoring"
)

type LoggingMiddleware struct {
	logger               *logrus.Logger
	metrics              monitoring.MetricsService
	excludePaths         []string
	slowRequestThreshold time.Duration
}

func NewLoggingMiddleware(logger *logrus.Logger, metrics monitoring.MetricsService) *LoggingMiddleware {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if metrics == nil {
		metrics = monitoring.NewNoopMetrics()
	}

	return &LoggingMiddleware{
		logger:               logger,
		metrics:              metrics,
		excludePaths:         []string{"/health", "/ready", "/metrics"},
		slowRequestThreshold: 2 * time.Second,
	}
}

// RequestLogger writes one structured line per request and records HTTP metrics
func (l *LoggingMiddleware) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		// Route template keeps per-user paths from exploding label cardinality
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		l.metrics.RecordHTTPRequest(c.Request.Method, endpoint, status, duration)

		if l.shouldExcludePath(c.Request.URL.Path) {
			return
		}

		entry := l.logger.WithFields(logrus.Fields{
			"request_id":    requestid.Get(c),
			"method":        c.Request.Method,
			"path":          c.Request.URL.Path,
			"status_code":   status,
			"latency":       duration.Milliseconds(),
			"client_ip":     c.ClientIP(),
			"response_size": c.Writer.Size(),
		})

		if userID, ok := UserID(c); ok {
			entry = entry.WithField("user_id", userID)
		}
		if len(c.Errors) > 0 {
			entry = entry.WithField("error", c.Errors.String())
		}

		if duration > l.slowRequestThreshold {
			entry = entry.WithField("slow_request", true)
		}

		switch {
		case status >= 500:
			entry.Error("Server error")
		case status >= 400:
			entry.Warn("Client error")
		case duration > l.slowRequestThreshold:
			entry.Warn("Slow request detected")
		default:
			entry.Info("Request completed")
		}
	}
}

func (l *LoggingMiddleware) shouldExcludePath(path string) bool {
	for _, excludePath := range l.excludePaths {
		if strings.HasPrefix(path, excludePath) {
			return true
		}
	}
	return false
}

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"realtime-service/internal/metrics"
)

// Metrics records HTTP request metrics, skipping probes, /metrics and the
// socket upgrade route.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metrics.ShouldSkipEndpoint(c.Request.URL.Path) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

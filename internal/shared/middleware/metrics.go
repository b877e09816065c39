package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/collabide/workspace/internal/shared/metrics"
)

// Metrics returns a middleware that records HTTP request metrics.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()

		c.Next()

		m.HTTPRequestsInFlight.Dec()
		// use the route template, not the raw path, to bound cardinality
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"

	"ngpt-server/internal/infrastructure/metrics"
)

// ModelKey is the gin context key handlers set to the upstream model serving a request.
const ModelKey = "model"

// Metrics records request counters and latency.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		model := c.GetString(ModelKey)
		if model == "" {
			model = "none"
		}

		metrics.RecordRequest(c.Request.Method, endpoint, c.Writer.Status(), model, time.Since(start).Seconds())
		metrics.RecordUserAgent(c.Request.UserAgent())
	}
}

package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PrepareTextStream sets the headers for an unframed UTF-8 text stream and returns the flusher.
func PrepareTextStream(c *gin.Context) (http.Flusher, bool) {
	c.Writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Writer.(http.Flusher)
	return flusher, ok
}

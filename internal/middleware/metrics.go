package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/simplecache/internal/monitoring"
)

// UnmatchedRoute labels requests that hit no route. Raw URLs would give every
// cache key its own latency series.
const UnmatchedRoute = "unmatched"

// Metrics observes request latency per method, route template and status.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		monitoring.ObserveAPILatency(c.Request.Method, routeLabel(c), strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return UnmatchedRoute
}

package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/simplecache/internal/middleware"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// clientIdentity names the caller for realtime subscriptions.
func clientIdentity(c *gin.Context) string {
	if id := middleware.ClientID(c); id != "" {
		return id
	}
	return c.ClientIP()
}

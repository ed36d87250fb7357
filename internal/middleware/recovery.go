package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/simplecache/pkg/errors"
	"github.com/charlesng35/simplecache/pkg/logger"
	"github.com/charlesng35/simplecache/pkg/response"
)

// Recovery turns a handler panic into the standard INTERNAL_SERVER_ERROR
// envelope. The panic value is logged with the request id, never returned.
// A response that already started is left as is.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.WithModule("http").Error("handler panicked",
				zap.String("method", c.Request.Method),
				zap.String("route", routeLabel(c)),
				zap.String("request_id", c.GetString(response.RequestIDKey)),
				zap.Any("panic", r),
			)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			response.Error(c, errors.ErrInternalServer)
			c.Abort()
		}()
		c.Next()
	}
}

// NotFoundHandler answers unknown routes with a NOT_FOUND envelope.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, errors.ErrNotFound.WithMessage(fmt.Sprintf("route %s not found", c.Request.URL.Path)))
}

package response

import (
	"net/http"

	appErrors "github.com/charlesng35/simplecache/pkg/errors"
	"github.com/gin-gonic/gin"
)

// RequestIDKey is the gin context key holding the request identifier.
const RequestIDKey = "request_id"

// Response defines the base API payload.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorInfo holds error details to send to clients.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta carries request scoped details alongside the payload.
type Meta struct {
	RequestID string `json:"request_id,omitempty"`
	Backend   string `json:"backend,omitempty"`
}

// Success writes a JSON success response.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Data:    data,
		Meta:    metaFor(c, nil),
	})
}

// SuccessWithMeta writes a JSON success response including metadata.
func SuccessWithMeta(c *gin.Context, statusCode int, data interface{}, meta *Meta) {
	c.JSON(statusCode, Response{
		Success: true,
		Data:    data,
		Meta:    metaFor(c, meta),
	})
}

// Failure writes an unsuccessful response that still carries data, used when
// an operation partially applied.
func Failure(c *gin.Context, err error, data interface{}) {
	appErr := appErrors.FromError(orInternal(err))
	c.JSON(statusOf(appErr), Response{
		Success: false,
		Data:    data,
		Error:   &ErrorInfo{Code: appErr.Code, Message: appErr.Message},
		Meta:    metaFor(c, nil),
	})
}

// Error writes a JSON error response derived from an AppError.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(orInternal(err))
	c.JSON(statusOf(appErr), Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    appErr.Code,
			Message: appErr.Message,
		},
		Meta: metaFor(c, nil),
	})
}

func orInternal(err error) error {
	if err == nil {
		return appErrors.ErrInternalServer
	}
	return err
}

func statusOf(appErr *appErrors.AppError) int {
	if appErr.StatusCode == 0 {
		return http.StatusInternalServerError
	}
	return appErr.StatusCode
}

func metaFor(c *gin.Context, meta *Meta) *Meta {
	requestID := c.GetString(RequestIDKey)
	if requestID == "" {
		return meta
	}
	if meta == nil {
		meta = &Meta{}
	}
	if meta.RequestID == "" {
		meta.RequestID = requestID
	}
	return meta
}

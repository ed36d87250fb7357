package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/simplecache/internal/services"
	"github.com/charlesng35/simplecache/pkg/response"
)

// CounterHandler exposes atomic increment and decrement.
type CounterHandler struct {
	svc *services.CacheService
}

// NewCounterHandler constructs a CounterHandler.
func NewCounterHandler(svc *services.CacheService) (*CounterHandler, error) {
	if svc == nil {
		return nil, errors.New("counter handler: service is required")
	}
	return &CounterHandler{svc: svc}, nil
}

type counterPayload struct {
	Step *int64 `json:"step"`
}

// Increment handles POST /api/counters/:key/increment.
func (h *CounterHandler) Increment(c *gin.Context) {
	h.adjust(c, h.svc.Increment)
}

// Decrement handles POST /api/counters/:key/decrement.
func (h *CounterHandler) Decrement(c *gin.Context) {
	h.adjust(c, h.svc.Decrement)
}

func (h *CounterHandler) adjust(c *gin.Context, apply func(context.Context, string, *int64) (int64, error)) {
	var payload counterPayload
	if !bindOptional(c, &payload) {
		return
	}

	key := c.Param("key")
	value, err := apply(requestContext(c), key, payload.Step)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, gin.H{"key": key, "value": value}, &response.Meta{Backend: h.svc.Backend()})
}

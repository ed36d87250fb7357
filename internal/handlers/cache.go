package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/simplecache/internal/services"
	"github.com/charlesng35/simplecache/pkg/response"
)

// CacheHandler exposes single-key cache operations.
type CacheHandler struct {
	svc *services.CacheService
}

// NewCacheHandler constructs a CacheHandler.
func NewCacheHandler(svc *services.CacheService) (*CacheHandler, error) {
	if svc == nil {
		return nil, errors.New("cache handler: service is required")
	}
	return &CacheHandler{svc: svc}, nil
}

type setValuePayload struct {
	Value json.RawMessage `json:"value" validate:"required"`
	TTL   *int64          `json:"ttl"`
}

type entryResponse struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (h *CacheHandler) meta() *response.Meta {
	return &response.Meta{Backend: h.svc.Backend()}
}

// Get handles GET /api/cache/:key.
func (h *CacheHandler) Get(c *gin.Context) {
	key := c.Param("key")
	value, err := h.svc.Get(requestContext(c), key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, entryResponse{Key: key, Value: value}, h.meta())
}

// Set handles PUT /api/cache/:key.
func (h *CacheHandler) Set(c *gin.Context) {
	var payload setValuePayload
	if !bindAndValidate(c, &payload) {
		return
	}

	key := c.Param("key")
	if err := h.svc.Set(requestContext(c), key, payload.Value, payload.TTL); err != nil {
		response.Error(c, err)
		return
	}

	ttl, _ := h.svc.ResolveTTL(payload.TTL)
	response.SuccessWithMeta(c, http.StatusOK, gin.H{
		"key": key,
		"ttl": int64(ttl.Seconds()),
	}, h.meta())
}

// Delete handles DELETE /api/cache/:key.
func (h *CacheHandler) Delete(c *gin.Context) {
	key := c.Param("key")
	if err := h.svc.Delete(requestContext(c), key); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, gin.H{"key": key, "deleted": true}, h.meta())
}

// Exists handles GET /api/cache/:key/exists.
func (h *CacheHandler) Exists(c *gin.Context) {
	key := c.Param("key")
	found, err := h.svc.Exists(requestContext(c), key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, gin.H{"key": key, "exists": found}, h.meta())
}

// Clear handles DELETE /api/cache.
func (h *CacheHandler) Clear(c *gin.Context) {
	h.svc.Clear(requestContext(c))
	response.SuccessWithMeta(c, http.StatusOK, gin.H{"cleared": true}, h.meta())
}

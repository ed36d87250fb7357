package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/simplecache/internal/services"
	"github.com/charlesng35/simplecache/pkg/response"
)

// maxBatchKeys bounds a single batch request.
const maxBatchKeys = 1000

// BatchHandler exposes multi-key cache operations.
type BatchHandler struct {
	svc *services.CacheService
}

// NewBatchHandler constructs a BatchHandler.
func NewBatchHandler(svc *services.CacheService) (*BatchHandler, error) {
	if svc == nil {
		return nil, errors.New("batch handler: service is required")
	}
	return &BatchHandler{svc: svc}, nil
}

type batchKeysPayload struct {
	Keys []string `json:"keys" validate:"required,min=1,max=1000"`
}

type batchSetPayload struct {
	Items map[string]json.RawMessage `json:"items" validate:"required,min=1,max=1000"`
	TTL   *int64                     `json:"ttl"`
}

type batchResult struct {
	Found bool            `json:"found"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (h *BatchHandler) meta() *response.Meta {
	return &response.Meta{Backend: h.svc.Backend()}
}

// Get handles POST /api/batch/get. Every requested key appears in the
// response; misses carry found=false.
func (h *BatchHandler) Get(c *gin.Context) {
	var payload batchKeysPayload
	if !bindAndValidate(c, &payload) {
		return
	}

	results, err := h.svc.GetMultiple(requestContext(c), payload.Keys)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make(map[string]batchResult, len(results))
	for key, result := range results {
		out[key] = batchResult{Found: result.Found, Value: result.Value}
	}
	response.SuccessWithMeta(c, http.StatusOK, gin.H{"results": out}, h.meta())
}

// Set handles POST /api/batch/set. A partially applied batch answers with
// cache.write_failed; accepted writes are not rolled back.
func (h *BatchHandler) Set(c *gin.Context) {
	var payload batchSetPayload
	if !bindAndValidate(c, &payload) {
		return
	}

	if err := h.svc.SetMultiple(requestContext(c), payload.Items, payload.TTL); err != nil {
		response.Failure(c, err, gin.H{"requested": len(payload.Items)})
		return
	}
	ttl, _ := h.svc.ResolveTTL(payload.TTL)
	response.SuccessWithMeta(c, http.StatusOK, gin.H{
		"stored": len(payload.Items),
		"ttl":    int64(ttl.Seconds()),
	}, h.meta())
}

// Delete handles POST /api/batch/delete.
func (h *BatchHandler) Delete(c *gin.Context) {
	var payload batchKeysPayload
	if !bindAndValidate(c, &payload) {
		return
	}

	if err := h.svc.DeleteMultiple(requestContext(c), payload.Keys); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, gin.H{"deleted": len(payload.Keys)}, h.meta())
}

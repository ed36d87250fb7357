package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/simplecache/internal/realtime"
	"github.com/charlesng35/simplecache/pkg/errors"
	"github.com/charlesng35/simplecache/pkg/response"
)

// RealtimeHandler upgrades HTTP connections into key-event streams.
type RealtimeHandler struct {
	hub            *realtime.Hub
	allowedStreams map[string]struct{}
}

// NewRealtimeHandler constructs a realtime handler and optionally restricts allowed streams.
// If no streams are provided, only the cache key stream is accepted.
func NewRealtimeHandler(hub *realtime.Hub, streams ...string) *RealtimeHandler {
	if len(streams) == 0 {
		streams = []string{realtime.StreamCacheKeys}
	}
	allowed := make(map[string]struct{}, len(streams))
	for _, stream := range streams {
		stream = normalizeStream(stream)
		if stream == "" {
			continue
		}
		allowed[stream] = struct{}{}
	}

	return &RealtimeHandler{
		hub:            hub,
		allowedStreams: allowed,
	}
}

// Stream handles GET /api/events. Callers choose streams through the stream
// or streams query parameters and may narrow key events with prefix.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	streams := gatherStreams(c)
	if len(streams) == 0 {
		streams = []string{realtime.StreamCacheKeys}
	}
	for _, stream := range streams {
		if _, ok := h.allowedStreams[stream]; !ok {
			response.Error(c, errors.NewBadRequest("unknown stream "+stream))
			return
		}
	}

	h.hub.Serve(clientIdentity(c), streams, c.Query("prefix"), c.Writer, c.Request)
}

func gatherStreams(c *gin.Context) []string {
	var streams []string

	for _, queryStream := range c.QueryArray("stream") {
		if normalized := normalizeStream(queryStream); normalized != "" {
			streams = append(streams, normalized)
		}
	}

	raw := c.Query("streams")
	if raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if normalized := normalizeStream(part); normalized != "" {
				streams = append(streams, normalized)
			}
		}
	}

	return uniqueStreams(streams)
}

func normalizeStream(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func uniqueStreams(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

package realtime

// StreamCacheKeys carries key change notifications.
const StreamCacheKeys = "cache.keys"

// Events published on StreamCacheKeys.
const (
	EventSet       = "set"
	EventDelete    = "delete"
	EventClear     = "clear"
	EventIncrement = "increment"
	EventDecrement = "decrement"
	EventExpire    = "expire"
)

// KeyEvent builds a message for StreamCacheKeys. Subscribers that asked for
// a key prefix only receive events whose key matches it; key-less events
// such as clear reach everyone.
func KeyEvent(event, key string, fields map[string]any) Message {
	data := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		data[k] = v
	}
	if key != "" {
		data["key"] = key
	}
	return Message{Stream: StreamCacheKeys, Event: event, Data: data, key: key}
}

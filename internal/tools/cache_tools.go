package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/charlesng35/simplecache/internal/services"
	apperrors "github.com/charlesng35/simplecache/pkg/errors"
)

// ToolHandler is the signature mcp-go expects for tool callbacks.
type ToolHandler = func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// Register adds every cache tool to s.
func Register(s *server.MCPServer, svc *services.CacheService) {
	keyArg := mcp.WithString("key", mcp.Required(), mcp.Description("Cache key"))
	keysArg := mcp.WithArray("keys", mcp.Required(), mcp.Description("Cache keys"), mcp.WithStringItems())
	ttlArg := mcp.WithNumber("ttl", mcp.Description("Lifetime in whole seconds; 0 never expires, omitted uses the server default"))
	stepArg := mcp.WithNumber("step", mcp.Description("Amount to apply, defaults to 1"))

	s.AddTool(mcp.NewTool("cache-get",
		mcp.WithDescription("Returns the JSON value stored at a key, or reports a miss"),
		keyArg,
	), GetHandler(svc))

	s.AddTool(mcp.NewTool("cache-set",
		mcp.WithDescription(multiline(
			"Stores a value at a key",
			"- value is parsed as JSON when possible and stored as a JSON string otherwise",
		)),
		keyArg,
		mcp.WithString("value", mcp.Required(), mcp.Description("Value to store")),
		ttlArg,
	), SetHandler(svc))

	s.AddTool(mcp.NewTool("cache-delete",
		mcp.WithDescription("Removes a key; removing an absent key succeeds"),
		keyArg,
	), DeleteHandler(svc))

	s.AddTool(mcp.NewTool("cache-clear",
		mcp.WithDescription("Removes every key"),
	), ClearHandler(svc))

	s.AddTool(mcp.NewTool("cache-exists",
		mcp.WithDescription("Reports whether a key holds a live value"),
		keyArg,
	), ExistsHandler(svc))

	s.AddTool(mcp.NewTool("cache-get-multiple",
		mcp.WithDescription("Returns a result for every requested key; misses carry found=false"),
		keysArg,
	), GetMultipleHandler(svc))

	s.AddTool(mcp.NewTool("cache-set-multiple",
		mcp.WithDescription(multiline(
			"Stores several values with one ttl",
			"- writes are applied one by one and are kept even when a later write fails",
		)),
		mcp.WithObject("items", mcp.Required(), mcp.Description("Map of key to value")),
		ttlArg,
	), SetMultipleHandler(svc))

	s.AddTool(mcp.NewTool("cache-delete-multiple",
		mcp.WithDescription("Removes several keys"),
		keysArg,
	), DeleteMultipleHandler(svc))

	s.AddTool(mcp.NewTool("cache-increment",
		mcp.WithDescription("Atomically adds step to the integer at key; absent keys start at 0"),
		keyArg,
		stepArg,
	), IncrementHandler(svc))

	s.AddTool(mcp.NewTool("cache-decrement",
		mcp.WithDescription("Atomically subtracts step from the integer at key; absent keys start at 0"),
		keyArg,
		stepArg,
	), DecrementHandler(svc))
}

// GetHandler serves cache-get.
func GetHandler(svc *services.CacheService) ToolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		value, err := svc.Get(ctx, key)
		if errors.Is(err, apperrors.ErrCacheMiss) {
			return jsonResult(map[string]any{"key": key, "found": false})
		}
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"key": key, "found": true, "value": value})
	}
}

// SetHandler serves cache-set.
func SetHandler(svc *services.CacheService) ToolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		raw, err := req.RequireString("value")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		ttl, err := optionalInt(req, "ttl")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := svc.Set(ctx, key, toJSON(raw), ttl); err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"key": key, "stored": true})
	}
}

// DeleteHandler serves cache-delete.
func DeleteHandler(svc *services.CacheService) ToolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := svc.Delete(ctx, key); err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"key": key, "deleted": true})
	}
}

// ClearHandler serves cache-clear.
func ClearHandler(svc *services.CacheService) ToolHandler {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		svc.Clear(ctx)
		return jsonResult(map[string]any{"cleared": true})
	}
}

// ExistsHandler serves cache-exists.
func ExistsHandler(svc *services.CacheService) ToolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		found, err := svc.Exists(ctx, key)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"key": key, "exists": found})
	}
}

type multiResult struct {
	Found bool            `json:"found"`
	Value json.RawMessage `json:"value,omitempty"`
}

// GetMultipleHandler serves cache-get-multiple.
func GetMultipleHandler(svc *services.CacheService) ToolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		keys, err := req.RequireStringSlice("keys")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		results, err := svc.GetMultiple(ctx, keys)
		if err != nil {
			return errorResult(err), nil
		}
		out := make(map[string]multiResult, len(results))
		for key, result := range results {
			out[key] = multiResult{Found: result.Found, Value: result.Value}
		}
		return jsonResult(map[string]any{"results": out})
	}
}

// SetMultipleHandler serves cache-set-multiple. Item values are stored as
// the JSON they arrive as.
func SetMultipleHandler(svc *services.CacheService) ToolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rawItems, ok := req.GetArguments()["items"].(map[string]any)
		if !ok || len(rawItems) == 0 {
			return mcp.NewToolResultError("items must be a non-empty object"), nil
		}
		ttl, err := optionalInt(req, "ttl")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		items := make(map[string]json.RawMessage, len(rawItems))
		for key, value := range rawItems {
			encoded, err := json.Marshal(value)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("items.%s: %v", key, err)), nil
			}
			items[key] = encoded
		}
		if err := svc.SetMultiple(ctx, items, ttl); err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"stored": len(items)})
	}
}

// DeleteMultipleHandler serves cache-delete-multiple.
func DeleteMultipleHandler(svc *services.CacheService) ToolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		keys, err := req.RequireStringSlice("keys")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := svc.DeleteMultiple(ctx, keys); err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"deleted": len(keys)})
	}
}

// IncrementHandler serves cache-increment.
func IncrementHandler(svc *services.CacheService) ToolHandler {
	return counterHandler(svc.Increment)
}

// DecrementHandler serves cache-decrement.
func DecrementHandler(svc *services.CacheService) ToolHandler {
	return counterHandler(svc.Decrement)
}

func counterHandler(apply func(context.Context, string, *int64) (int64, error)) ToolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		step, err := optionalInt(req, "step")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		value, err := apply(ctx, key, step)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"key": key, "value": value})
	}
}

// optionalInt reads a whole-number argument, returning nil when absent.
func optionalInt(req mcp.CallToolRequest, name string) (*int64, error) {
	raw, ok := req.GetArguments()[name]
	if !ok || raw == nil {
		return nil, nil
	}
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case int:
		n = float64(v)
	case int64:
		out := v
		return &out, nil
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("%s must be a whole number", name)
		}
		return &parsed, nil
	default:
		return nil, fmt.Errorf("%s must be a number", name)
	}
	if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
		return nil, fmt.Errorf("%s must be a whole number", name)
	}
	out := int64(n)
	return &out, nil
}

// toJSON keeps valid JSON text as-is and wraps anything else as a string.
func toJSON(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	encoded, _ := json.Marshal(raw)
	return encoded
}

func errorResult(err error) *mcp.CallToolResult {
	appErr := apperrors.FromError(err)
	return mcp.NewToolResultError(appErr.Code + ": " + appErr.Message)
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(encoded)), nil
}

// multiline joins lines with newlines for tool descriptions.
func multiline(lines ...string) string { return strings.Join(lines, "\n") }

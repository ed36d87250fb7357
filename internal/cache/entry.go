package cache

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"
)

type entryKind uint8

const (
	kindValue entryKind = iota
	kindCounter
)

// entry is immutable once published to a shard; writers swap the pointer.
type entry[T any] struct {
	kind      entryKind
	value     T
	counter   int64
	expiresAt time.Time
}

func (e *entry[T]) expired(now time.Time) bool {
	return expiredAt(e.expiresAt, now)
}

// integer returns the entry as a counter value.
func (e *entry[T]) integer() (int64, bool) {
	if e.kind == kindCounter {
		return e.counter, true
	}
	return integerValue(any(e.value))
}

// read returns the entry as T. Counter entries are converted when T can
// represent an integer.
func (e *entry[T]) read() (T, bool) {
	if e.kind == kindValue {
		return e.value, true
	}
	return counterAs[T](e.counter)
}

// integerValue reports whether v holds an integer. Raw byte forms are parsed
// as base-10 text; strings are never treated as integers.
func integerValue(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return fromUnsigned(uint64(n))
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return fromUnsigned(n)
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case json.RawMessage:
		return ParseInteger(n)
	case []byte:
		return ParseInteger(n)
	default:
		return 0, false
	}
}

func fromUnsigned(n uint64) (int64, bool) {
	if n > math.MaxInt64 {
		return 0, false
	}
	return int64(n), true
}

// ParseInteger parses a stored byte value as a base-10 int64, ignoring
// surrounding whitespace.
func ParseInteger(raw []byte) (int64, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(string(trimmed), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FormatInteger is the stored byte form of a counter.
func FormatInteger(n int64) []byte {
	return strconv.AppendInt(nil, n, 10)
}

// counterAs converts a counter to T. It fails when T has no integer form or
// cannot hold n.
func counterAs[T any](n int64) (T, bool) {
	var out T
	switch p := any(&out).(type) {
	case *int64:
		*p = n
	case *int:
		if n < math.MinInt || n > math.MaxInt {
			return out, false
		}
		*p = int(n)
	case *int8:
		if n < math.MinInt8 || n > math.MaxInt8 {
			return out, false
		}
		*p = int8(n)
	case *int16:
		if n < math.MinInt16 || n > math.MaxInt16 {
			return out, false
		}
		*p = int16(n)
	case *int32:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return out, false
		}
		*p = int32(n)
	case *uint:
		if n < 0 || uint64(n) > math.MaxUint {
			return out, false
		}
		*p = uint(n)
	case *uint8:
		if n < 0 || n > math.MaxUint8 {
			return out, false
		}
		*p = uint8(n)
	case *uint16:
		if n < 0 || n > math.MaxUint16 {
			return out, false
		}
		*p = uint16(n)
	case *uint32:
		if n < 0 || n > math.MaxUint32 {
			return out, false
		}
		*p = uint32(n)
	case *uint64:
		if n < 0 {
			return out, false
		}
		*p = uint64(n)
	case *float64:
		*p = float64(n)
	case *string:
		*p = strconv.FormatInt(n, 10)
	case *json.Number:
		*p = json.Number(strconv.FormatInt(n, 10))
	case *json.RawMessage:
		*p = json.RawMessage(FormatInteger(n))
	case *[]byte:
		*p = FormatInteger(n)
	case *any:
		*p = n
	default:
		return out, false
	}
	return out, true
}

// counterError explains why counterAs rejected n: T either holds integers
// but not this one, or holds none at all.
func counterError[T any]() error {
	if _, ok := counterAs[T](0); ok {
		return ErrCounterOverflow
	}
	return ErrNotInteger
}

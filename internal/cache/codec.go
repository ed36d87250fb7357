package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charlesng35/simplecache/pkg/crypto"
)

// Codec converts values to and from the bytes held by a Store.
type Codec[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONCodec stores values as JSON, so integers written through Set remain
// usable as counters.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(value T) ([]byte, error) {
	return json.Marshal(value)
}

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var out T
	err := json.Unmarshal(data, &out)
	return out, err
}

// SealedCodec encrypts the inner encoding with AES-GCM and stores it as a
// JSON string. Plain JSON numbers are passed through undecrypted because
// backends write counters in the clear.
type SealedCodec[T any] struct {
	inner Codec[T]
	key   []byte
}

// NewSealedCodec wraps inner with encryption under key (32 bytes).
func NewSealedCodec[T any](inner Codec[T], key []byte) (*SealedCodec[T], error) {
	if len(key) != crypto.KeyLength {
		return nil, fmt.Errorf("cache: encryption key must be %d bytes", crypto.KeyLength)
	}
	if inner == nil {
		inner = JSONCodec[T]{}
	}
	return &SealedCodec[T]{inner: inner, key: append([]byte(nil), key...)}, nil
}

func (c *SealedCodec[T]) Encode(value T) ([]byte, error) {
	plain, err := c.inner.Encode(value)
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.Seal(plain, c.key)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sealed)
}

func (c *SealedCodec[T]) Decode(data []byte) (T, error) {
	trimmed := bytes.TrimSpace(data)
	if _, ok := ParseInteger(trimmed); ok {
		return c.inner.Decode(trimmed)
	}

	var sealed string
	if err := json.Unmarshal(trimmed, &sealed); err != nil {
		var zero T
		return zero, errors.New("cache: value is not sealed")
	}
	plain, err := crypto.Open(sealed, c.key)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.inner.Decode(plain)
}

package app

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeKey(t *testing.T) {
	raw := []byte("0123456789abcdef0123456789abcdef")

	decoded, err := DecodeKey(hex.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, decoded)

	decoded, err = DecodeKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, decoded)

	decoded, err = DecodeKey("  not*encoded!  ")
	require.NoError(t, err)
	require.Equal(t, []byte("not*encoded!"), decoded)

	_, err = DecodeKey("   ")
	require.Error(t, err)
}

package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type batchPayload struct {
	Keys []string `json:"keys" validate:"required,min=1,dive,cachekey"`
	TTL  *int64   `json:"ttl" validate:"omitempty,gte=0"`
}

func TestValidateStructSuccess(t *testing.T) {
	ttl := int64(60)
	require.NoError(t, ValidateStruct(batchPayload{Keys: []string{"a", "user:1"}, TTL: &ttl}))
}

func TestValidateStructFailures(t *testing.T) {
	ttl := int64(-1)
	err := ValidateStruct(batchPayload{Keys: []string{"ok", "bad\nkey"}, TTL: &ttl})
	require.Error(t, err)

	vErrs, ok := err.(ValidationErrors)
	require.True(t, ok, "expected ValidationErrors, got %T", err)
	require.Len(t, vErrs, 2)

	tags := map[string]string{}
	for _, v := range vErrs {
		tags[v.Field] = v.Tag
	}
	require.Equal(t, "cachekey", tags["keys[1]"])
	require.Equal(t, "gte", tags["ttl"])
}

func TestValidateVar(t *testing.T) {
	require.NoError(t, ValidateVar("session:42", "cachekey,max=16"))
	require.Error(t, ValidateVar("   ", "cachekey"))
	require.Error(t, ValidateVar("this-key-is-too-long", "max=8"))
}

func TestIsCacheKey(t *testing.T) {
	require.True(t, IsCacheKey("a"))
	require.True(t, IsCacheKey("ключ"))
	require.False(t, IsCacheKey(""))
	require.False(t, IsCacheKey("tab\tkey"))
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("prefixed", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) > 4 && fl.Field().String()[:4] == "app:"
	})
	require.NoError(t, err)

	type custom struct {
		Key string `validate:"prefixed"`
	}

	require.NoError(t, ValidateStruct(custom{Key: "app:x"}))
	require.Error(t, ValidateStruct(custom{Key: "other"}))
}

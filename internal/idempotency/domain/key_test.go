package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	v4 := uuid.NewString()

	key, err := ParseKey("  " + v4 + " ")
	require.NoError(t, err)
	assert.Equal(t, v4, key)

	_, err = ParseKey("")
	assert.ErrorIs(t, err, ErrMissingKey)

	cases := []string{
		"not-a-uuid",
		"6ba7b810-9dad-11d1-80b4-00c04fd430c8", // version 1
		"{" + v4 + "}",
		"urn:uuid:" + v4,
		"a8098c1a-f86e-41da-c0ab-7b5b67a4b6f8", // wrong variant
	}
	for _, raw := range cases {
		_, err := ParseKey(raw)
		assert.ErrorIs(t, err, ErrInvalidKey, raw)
	}
}

func TestFingerprintChangesWithBody(t *testing.T) {
	a := Fingerprint("post", "/api/subscriptions/purchase", []byte(`{"planId":"1"}`))
	b := Fingerprint("POST", "/api/subscriptions/purchase", []byte(`{"planId":"1"}`))
	c := Fingerprint("POST", "/api/subscriptions/purchase", []byte(`{"planId":"2"}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, b, c)
	assert.Len(t, a, 64)
}

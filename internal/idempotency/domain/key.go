package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// ParseKey accepts only canonical RFC 4122 version 4 UUIDs.
func ParseKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return "", ErrMissingKey
	}
	if len(key) != 36 {
		return "", ErrInvalidKey
	}
	id, err := uuid.Parse(key)
	if err != nil || id.Version() != 4 || id.Variant() != uuid.RFC4122 {
		return "", ErrInvalidKey
	}
	return strings.ToLower(key), nil
}

// Fingerprint hashes the parts of a request that make it "the same request".
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{'|'})
	h.Write([]byte(path))
	h.Write([]byte{'|'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

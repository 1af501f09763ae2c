package crypto

import (
	"strings"

	"github.com/google/uuid"
)

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewNonce returns a 32 character request nonce built from a UUID v7.
func NewNonce() string {
	return strings.ReplaceAll(NewUUIDv7().String(), "-", "")
}

package idempotency

import (
	"errors"

	"github.com/google/uuid"
)

// ErrInvalidKey is returned when a caller-supplied idempotency key is not a
// syntactically valid UUID. Key validation happens before any storage access.
var ErrInvalidKey = errors.New("idempotency key must be a valid UUID")

// Key is a validated idempotency key. The zero value is invalid; obtain one
// via ParseKey.
type Key struct {
	value string
}

// ParseKey validates s as a UUID and returns it as a Key.
func ParseKey(s string) (Key, error) {
	if _, err := uuid.Parse(s); err != nil {
		return Key{}, ErrInvalidKey
	}
	return Key{value: s}, nil
}

// String returns the key's original string form.
func (k Key) String() string {
	return k.value
}

package idempotency

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestParseKey_Valid(t *testing.T) {
	raw := uuid.New().String()
	key, err := ParseKey(raw)
	if err != nil {
		t.Fatalf("ParseKey(%q) failed: %v", raw, err)
	}
	if key.String() != raw {
		t.Errorf("expected key %q, got %q", raw, key.String())
	}
}

func TestParseKey_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"not-a-uuid",
		"12345",
		"f81d4fae-7dec-11d0-a765-00a0c91e6bf", // one char short
	}
	for _, raw := range invalid {
		_, err := ParseKey(raw)
		if !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ParseKey(%q) expected ErrInvalidKey, got %v", raw, err)
		}
	}
}

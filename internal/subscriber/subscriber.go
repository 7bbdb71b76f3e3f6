package subscriber

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// Subscription status values for the subscriptions table.
const (
	StatusPendingConfirmation = "pending_confirmation"
	StatusConfirmed           = "confirmed"
)

const maxNameLength = 256

// forbiddenNameChars are rejected to keep stored names safe for rendering.
var forbiddenNameChars = `/()"<>\{}`

// ErrInvalidStoredData marks a subscriber whose persisted contact details no
// longer pass validation. Deliveries to such a subscriber are a permanent
// failure, never retried.
var ErrInvalidStoredData = errors.New("subscriber stored contact details are invalid")

// ParseEmail validates a stored subscriber email address. It accepts only a
// bare RFC 5322 address with a dotted domain part.
func ParseEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return "", fmt.Errorf("%w: email %q: %v", ErrInvalidStoredData, email, err)
	}
	if addr.Address != email {
		return "", fmt.Errorf("%w: email %q is not a bare address", ErrInvalidStoredData, email)
	}

	domain := email[strings.LastIndex(email, "@")+1:]
	if !isValidDomain(domain) {
		return "", fmt.Errorf("%w: email %q has an invalid domain", ErrInvalidStoredData, email)
	}

	return email, nil
}

// ParseName validates a stored subscriber name: non-empty after trimming,
// at most 256 characters, and free of characters that could break rendering.
func ParseName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: name is empty", ErrInvalidStoredData)
	}
	if len([]rune(name)) > maxNameLength {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrInvalidStoredData, maxNameLength)
	}
	if strings.ContainsAny(name, forbiddenNameChars) {
		return "", fmt.Errorf("%w: name %q contains forbidden characters", ErrInvalidStoredData, name)
	}
	return name, nil
}

// isValidDomain checks that the domain is non-empty, does not start or end
// with a dot, and contains at least one dot separator.
func isValidDomain(domain string) bool {
	if domain == "" {
		return false
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	return strings.Contains(domain, ".")
}

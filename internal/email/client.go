package email

import (
	"context"
)

// Client defines the interface for sending a newsletter email to a single
// recipient. Any error returned by Send is treated as transient by callers;
// permanent delivery failures are judged from stored subscriber data, never
// from transport errors.
type Client interface {
	// Send delivers the message to its recipient.
	Send(ctx context.Context, msg *Message) error
	// Name returns the transport's identifier (e.g., "smtp", "stdout").
	Name() string
}

// Message represents one outbound newsletter email.
type Message struct {
	To       string
	ToName   string
	Subject  string
	HTMLBody string
	TextBody string
}

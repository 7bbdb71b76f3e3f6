package email

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SMTPClient sends messages through an SMTP relay using STARTTLS and
// PLAIN authentication.
type SMTPClient struct {
	addr        string
	username    string
	password    string
	senderEmail string
	senderName  string
	timeout     time.Duration
}

// SMTPConfig holds the settings for an SMTPClient.
type SMTPConfig struct {
	Addr        string
	Username    string
	Password    string
	SenderEmail string
	SenderName  string
	Timeout     time.Duration
}

// NewSMTPClient creates an SMTPClient. A zero timeout defaults to 10s.
func NewSMTPClient(cfg SMTPConfig) *SMTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMTPClient{
		addr:        cfg.Addr,
		username:    cfg.Username,
		password:    cfg.Password,
		senderEmail: cfg.SenderEmail,
		senderName:  cfg.SenderName,
		timeout:     timeout,
	}
}

func (c *SMTPClient) Name() string { return "smtp" }

// Send builds a multipart/alternative MIME message and relays it. The
// context deadline bounds the whole SMTP conversation.
func (c *SMTPClient) Send(ctx context.Context, msg *Message) error {
	body, err := buildMIME(c.senderName, c.senderEmail, msg)
	if err != nil {
		return fmt.Errorf("build mime message: %w", err)
	}

	var auth sasl.Client
	if c.username != "" {
		auth = sasl.NewPlainClient("", c.username, c.password)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(c.addr, auth, c.senderEmail, []string{msg.To}, bytes.NewReader(body))
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", msg.To, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send to %s: %w", msg.To, ctx.Err())
	}
}

// buildMIME renders a multipart/alternative body with text and html parts.
func buildMIME(senderName, senderEmail string, msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", senderName), senderEmail)
	if msg.ToName != "" {
		fmt.Fprintf(&buf, "To: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", msg.ToName), msg.To)
	} else {
		fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())

	textHeader := textproto.MIMEHeader{}
	textHeader.Set("Content-Type", "text/plain; charset=utf-8")
	part, err := mw.CreatePart(textHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write([]byte(msg.TextBody)); err != nil {
		return nil, err
	}

	htmlHeader := textproto.MIMEHeader{}
	htmlHeader.Set("Content-Type", "text/html; charset=utf-8")
	part, err = mw.CreatePart(htmlHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write([]byte(msg.HTMLBody)); err != nil {
		return nil, err
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

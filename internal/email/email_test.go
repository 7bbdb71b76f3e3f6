package email

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"

	"github.com/sungwon/newsletter/internal/config"
)

func TestStdoutSend(t *testing.T) {
	var buf bytes.Buffer
	client := &Stdout{writer: &buf}

	err := client.Send(context.Background(), &Message{
		To:       "jane@example.com",
		ToName:   "Jane",
		Subject:  "Issue #1",
		HTMLBody: "<p>hello</p>",
		TextBody: "hello",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "jane@example.com") {
		t.Errorf("output missing recipient: %s", out)
	}
	if !strings.Contains(out, "Issue #1") {
		t.Errorf("output missing subject: %s", out)
	}
}

func TestBuildMIME(t *testing.T) {
	raw, err := buildMIME("Newsletter", "news@example.com", &Message{
		To:       "jane@example.com",
		ToName:   "Jane",
		Subject:  "Issue #1",
		HTMLBody: "<p>hello</p>",
		TextBody: "hello",
	})
	if err != nil {
		t.Fatalf("buildMIME failed: %v", err)
	}

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("parse mime message: %v", err)
	}

	if got := msg.Header.Get("Subject"); got != "Issue #1" {
		t.Errorf("expected subject 'Issue #1', got %q", got)
	}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("parse content type: %v", err)
	}
	if mediaType != "multipart/alternative" {
		t.Errorf("expected multipart/alternative, got %s", mediaType)
	}

	mr := multipart.NewReader(msg.Body, params["boundary"])
	var parts []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read part: %v", err)
		}
		body, _ := io.ReadAll(p)
		parts = append(parts, p.Header.Get("Content-Type")+": "+string(body))
	}

	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if !strings.HasPrefix(parts[0], "text/plain") || !strings.Contains(parts[0], "hello") {
		t.Errorf("unexpected text part: %s", parts[0])
	}
	if !strings.HasPrefix(parts[1], "text/html") || !strings.Contains(parts[1], "<p>hello</p>") {
		t.Errorf("unexpected html part: %s", parts[1])
	}
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name      string
		transport string
		wantName  string
		wantErr   bool
	}{
		{"stdout", "stdout", "stdout", false},
		{"empty defaults to stdout", "", "stdout", false},
		{"smtp", "smtp", "smtp", false},
		{"unknown", "carrier-pigeon", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewFromConfig(config.EmailConfig{
				Transport: tt.transport,
				SMTPAddr:  "localhost:587",
			})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFromConfig failed: %v", err)
			}
			if client.Name() != tt.wantName {
				t.Errorf("expected transport %s, got %s", tt.wantName, client.Name())
			}
		})
	}
}

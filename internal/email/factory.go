package email

import (
	"fmt"

	"github.com/sungwon/newsletter/internal/config"
)

// NewFromConfig builds a Client from the email configuration section.
func NewFromConfig(cfg config.EmailConfig) (Client, error) {
	switch cfg.Transport {
	case "smtp":
		return NewSMTPClient(SMTPConfig{
			Addr:        cfg.SMTPAddr,
			Username:    cfg.SMTPUser,
			Password:    cfg.SMTPPass,
			SenderEmail: cfg.SenderEmail,
			SenderName:  cfg.SenderName,
			Timeout:     cfg.SendTimeout,
		}), nil
	case "stdout", "":
		return NewStdout(), nil
	default:
		return nil, fmt.Errorf("unknown email transport: %s", cfg.Transport)
	}
}

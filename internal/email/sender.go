package email

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/metawebart/formwatch/internal/config"
)

// Providers
const (
	ProviderSMTP     = "smtp"
	ProviderResend   = "resend"
	ProviderSendGrid = "sendgrid"
)

type Message struct {
	To      string
	From    string
	Subject string
	Body    string
}

type Result struct {
	Success   bool
	MessageID string
	Error     error
}

type Sender interface {
	Send(ctx context.Context, msg Message) Result
	Name() string
}

// NewSender builds the sender selected by cfg.Provider. It returns a nil
// Sender when no provider is configured.
func NewSender(cfg config.FallbackConfig) (Sender, error) {
	if cfg.Provider == "" {
		return nil, nil
	}
	if err := ValidateEmail(cfg.From); err != nil {
		return nil, fmt.Errorf("invalid FALLBACK_FROM: %w", err)
	}
	if err := ValidateEmail(cfg.To); err != nil {
		return nil, fmt.Errorf("invalid FALLBACK_TO: %w", err)
	}

	switch cfg.Provider {
	case ProviderSMTP:
		if cfg.SMTP.Host == "" {
			return nil, fmt.Errorf("SMTP_HOST is required for the smtp provider")
		}
		return NewSMTPSender(cfg.SMTP), nil
	case ProviderResend:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("FALLBACK_API_KEY is required for the resend provider")
		}
		return NewResendSender(cfg.APIKey), nil
	case ProviderSendGrid:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("FALLBACK_API_KEY is required for the sendgrid provider")
		}
		return NewSendGridSender(cfg.APIKey), nil
	}
	return nil, fmt.Errorf("unknown email provider: %s", cfg.Provider)
}

// ValidateEmail checks for injection characters and RFC 5322 compliance
func ValidateEmail(email string) error {
	if strings.ContainsAny(email, "\r\n,;") {
		return fmt.Errorf("email contains invalid characters")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	return nil
}

func validateMessage(msg Message) error {
	if err := ValidateEmail(msg.From); err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if err := ValidateEmail(msg.To); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	// Reject headers with CRLF to prevent injection
	if strings.ContainsAny(msg.Subject, "\r\n") {
		return fmt.Errorf("subject contains invalid characters")
	}
	return nil
}

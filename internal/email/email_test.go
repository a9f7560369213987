package email

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	gomail "github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metawebart/formwatch/internal/config"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email   string
		wantErr bool
	}{
		{"ops@example.com", false},
		{"Ops <ops@example.com>", false},
		{"", true},
		{"not-an-address", true},
		{"a@b.com\r\nBcc: x@y.com", true},
		{"a@b.com, c@d.com", true},
	}
	for _, tt := range tests {
		err := ValidateEmail(tt.email)
		if tt.wantErr {
			assert.Error(t, err, tt.email)
		} else {
			assert.NoError(t, err, tt.email)
		}
	}
}

func TestNewSender(t *testing.T) {
	base := config.FallbackConfig{From: "bot@example.com", To: "ops@example.com"}

	t.Run("no provider", func(t *testing.T) {
		s, err := NewSender(config.FallbackConfig{})
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("smtp", func(t *testing.T) {
		cfg := base
		cfg.Provider = ProviderSMTP
		cfg.SMTP = config.SMTPConfig{Host: "smtp.example.com", Port: 587}
		s, err := NewSender(cfg)
		require.NoError(t, err)
		assert.Equal(t, ProviderSMTP, s.Name())
	})

	t.Run("smtp without host", func(t *testing.T) {
		cfg := base
		cfg.Provider = ProviderSMTP
		_, err := NewSender(cfg)
		assert.Error(t, err)
	})

	t.Run("resend", func(t *testing.T) {
		cfg := base
		cfg.Provider = ProviderResend
		cfg.APIKey = "re_test"
		s, err := NewSender(cfg)
		require.NoError(t, err)
		assert.Equal(t, ProviderResend, s.Name())
	})

	t.Run("sendgrid without key", func(t *testing.T) {
		cfg := base
		cfg.Provider = ProviderSendGrid
		_, err := NewSender(cfg)
		assert.Error(t, err)
	})

	t.Run("sendgrid", func(t *testing.T) {
		cfg := base
		cfg.Provider = ProviderSendGrid
		cfg.APIKey = "SG.test"
		s, err := NewSender(cfg)
		require.NoError(t, err)
		assert.Equal(t, ProviderSendGrid, s.Name())
	})

	t.Run("invalid recipient", func(t *testing.T) {
		cfg := base
		cfg.Provider = ProviderResend
		cfg.APIKey = "re_test"
		cfg.To = "nobody"
		_, err := NewSender(cfg)
		assert.Error(t, err)
	})
}

func TestSendRejectsHeaderInjection(t *testing.T) {
	s := NewSMTPSender(config.SMTPConfig{Host: "127.0.0.1", Port: 1})
	res := s.Send(context.Background(), Message{
		From:    "bot@example.com",
		To:      "ops@example.com",
		Subject: "hi\r\nBcc: evil@example.com",
	})
	assert.False(t, res.Success)
	assert.Error(t, res.Error)
}

func TestBuildMessage(t *testing.T) {
	data, err := buildMessage(Message{
		From:    "bot@example.com",
		To:      "ops@example.com",
		Subject: "Результат проверки форм",
		Body:    "Форма 1 - работает\nФорма 2 - не работает",
	})
	require.NoError(t, err)

	mr, err := gomail.CreateReader(bytes.NewReader(data))
	require.NoError(t, err)
	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Результат проверки форм", subject)

	p, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(p.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Форма 2 - не работает")
}

func TestSanitizeSMTPError(t *testing.T) {
	assert.EqualError(t, sanitizeSMTPError(errors.New("535 5.7.8 Authentication failed")), "SMTP authentication failed")
	assert.EqualError(t, sanitizeSMTPError(errors.New("x509: certificate signed by unknown authority")), "TLS certificate error")
	assert.EqualError(t, sanitizeSMTPError(errors.New("dial tcp: refused")), "SMTP error: check your configuration")
}

func TestEngineRender(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)
	assert.Equal(t, []string{TemplateReport, TemplateTest}, e.AvailableTemplates())

	r, err := e.Render(TemplateReport, ReportData{
		RunID:         "run-1",
		Date:          "06.01.2025 05:05",
		Report:        "\nСайт acme.test\nContact - работает",
		DeliveryError: "timeout",
	})
	require.NoError(t, err)
	assert.Equal(t, "Результат проверки форм (06.01.2025 05:05)", r.Subject)
	assert.True(t, strings.HasPrefix(r.Body, "Сайт acme.test\nContact - работает"))
	assert.Contains(t, r.Body, "Telegram: timeout.")
	assert.Contains(t, r.Body, "Run ID: run-1")

	r, err = e.Render(TemplateTest, ReportData{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(r.Subject, "Тестовое письмо formwatch ("))

	_, err = e.Render("missing", ReportData{})
	assert.Error(t, err)
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/metawebart/formwatch/internal/config"
)

// ReportHeader prefixes every delivered report.
const ReportHeader = "<b>Результат проверки форм:</b>\n"

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 4096

// StatusError is a non-2xx answer from the Bot API.
type StatusError struct {
	StatusCode  int
	Description string
}

func (e *StatusError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("telegram: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("telegram: HTTP %d: %s", e.StatusCode, e.Description)
}

// FormatMessage builds the HTML message text for a report.
func FormatMessage(report string) string {
	return ReportHeader + html.EscapeString(report)
}

// Telegram posts messages through the Bot API sendMessage method.
type Telegram struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

func NewTelegram(cfg config.NotifyConfig, client *http.Client) *Telegram {
	if client == nil {
		client = &http.Client{}
	}
	return &Telegram{
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		token:   cfg.Token,
		chatID:  cfg.ChatID,
		client:  client,
	}
}

// Send performs exactly one sendMessage call. Success is any 2xx status.
func (t *Telegram) Send(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	form := url.Values{
		"chat_id":    {t.chatID},
		"text":       {text},
		"parse_mode": {"HTML"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("telegram: %w", t.redact(err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %w", t.redact(err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var apiErr struct {
		Description string `json:"description"`
	}
	json.Unmarshal(body, &apiErr)
	return &StatusError{StatusCode: resp.StatusCode, Description: apiErr.Description}
}

// redact removes the bot token from URLs embedded in transport errors.
func (t *Telegram) redact(err error) error {
	var urlErr *url.Error
	if t.token != "" && errors.As(err, &urlErr) {
		urlErr.URL = strings.ReplaceAll(urlErr.URL, t.token, "<token>")
	}
	return err
}

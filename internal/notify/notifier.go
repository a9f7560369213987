// Package notify delivers verification reports to the operator. Telegram is
// the primary channel; an optional email channel and a dead-letter file catch
// what Telegram could not deliver.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/metawebart/formwatch/internal/config"
	"github.com/metawebart/formwatch/internal/email"
	"github.com/metawebart/formwatch/internal/logging"
	"github.com/metawebart/formwatch/internal/metrics"
)

var errNotConfigured = errors.New("telegram token or chat id not configured")

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient replaces the client used for Bot API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.telegram.client = c }
}

// WithFallback sets the email channel tried once after Telegram gives up.
func WithFallback(s email.Sender, engine *email.Engine, from, to string) Option {
	return func(n *Notifier) {
		n.fallback = s
		n.engine = engine
		n.fallbackFrom = from
		n.fallbackTo = to
	}
}

// WithDeadLetter sets where undeliverable reports are kept.
func WithDeadLetter(d *DeadLetter) Option {
	return func(n *Notifier) { n.deadLetter = d }
}

// Notifier sends one report per call with bounded retries.
type Notifier struct {
	telegram    *Telegram
	configured  bool
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration

	fallback     email.Sender
	engine       *email.Engine
	fallbackFrom string
	fallbackTo   string
	deadLetter   *DeadLetter

	observeDelay func(time.Duration)
}

func New(cfg config.NotifyConfig, opts ...Option) *Notifier {
	n := &Notifier{
		telegram:    NewTelegram(cfg, nil),
		configured:  cfg.Token != "" && cfg.ChatID != "",
		maxAttempts: max(cfg.MaxRetries, 1),
		baseDelay:   cfg.BaseDelay,
		timeout:     cfg.Timeout,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify delivers report and reports whether some channel accepted it.
// Telegram is tried up to maxAttempts times, waiting Delay(base, k) after
// failed attempt k. It never returns an error and never panics on transport
// failures.
func (n *Notifier) Notify(ctx context.Context, report string) bool {
	log := logging.FromContext(ctx).With("component", "notifier")

	attempts, err := n.sendTelegram(ctx, log, FormatMessage(report))
	if err == nil {
		log.Info("report delivered to telegram", "attempts", attempts)
		return true
	}
	log.Error("telegram delivery failed", "attempts", attempts, "error", err)

	fallbackErr := n.sendFallback(ctx, log, report, err)
	if fallbackErr == nil {
		return true
	}

	n.writeDeadLetter(ctx, log, DeadLetterEntry{
		Report:        report,
		Attempts:      attempts,
		LastError:     err.Error(),
		FallbackError: fallbackErr.Error(),
	})
	return false
}

func (n *Notifier) sendTelegram(ctx context.Context, log *slog.Logger, text string) (int, error) {
	if !n.configured {
		return 0, errNotConfigured
	}

	attempts := 0
	backoff := newBackoff(n.baseDelay, n.maxAttempts, func(d time.Duration) {
		log.Info("retrying telegram delivery", "next_attempt", attempts+1, "delay", d)
		if n.observeDelay != nil {
			n.observeDelay(d)
		}
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()

		if err := n.telegram.Send(attemptCtx, text); err != nil {
			metrics.NotifyAttempts.WithLabelValues(metrics.OutcomeFailure).Inc()
			log.Warn("telegram attempt failed",
				"attempt", attempts,
				"max_attempts", n.maxAttempts,
				"kind", Classify(err),
				"error", err)
			return retry.RetryableError(err)
		}
		metrics.NotifyAttempts.WithLabelValues(metrics.OutcomeSuccess).Inc()
		return nil
	})
	return attempts, err
}

func (n *Notifier) sendFallback(ctx context.Context, log *slog.Logger, report string, cause error) error {
	if n.fallback == nil || n.engine == nil {
		return errors.New("no fallback channel configured")
	}

	data := email.ReportData{Report: report, DeliveryError: string(Classify(cause))}
	if id, ok := logging.RunIDFromContext(ctx); ok {
		data.RunID = id
	}
	rendered, err := n.engine.Render(email.TemplateReport, data)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	res := n.fallback.Send(sendCtx, email.Message{
		From:    n.fallbackFrom,
		To:      n.fallbackTo,
		Subject: rendered.Subject,
		Body:    rendered.Body,
	})
	if !res.Success {
		log.Error("fallback delivery failed", "channel", n.fallback.Name(), "error", res.Error)
		if res.Error == nil {
			return errors.New("fallback delivery failed")
		}
		return res.Error
	}

	metrics.NotifyAttempts.WithLabelValues(metrics.OutcomeFallback).Inc()
	log.Info("report delivered by fallback channel", "channel", n.fallback.Name(), "message_id", res.MessageID)
	return nil
}

func (n *Notifier) writeDeadLetter(ctx context.Context, log *slog.Logger, entry DeadLetterEntry) {
	if n.deadLetter == nil {
		log.Error("report lost: no dead letter file configured")
		return
	}
	if id, ok := logging.RunIDFromContext(ctx); ok {
		entry.RunID = id
	}
	if err := n.deadLetter.Write(entry); err != nil {
		log.Error("failed to write dead letter", "path", n.deadLetter.Path(), "error", err)
		return
	}
	metrics.NotifyAttempts.WithLabelValues(metrics.OutcomeDeadLetter).Inc()
	log.Warn("report written to dead letter file", "path", n.deadLetter.Path())
}

// Package submitter drives a headless Chrome page through every form in the
// catalog, filling it with the test contact and pressing submit.
package submitter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/metawebart/formwatch/internal/config"
)

const (
	consentTimeout = 10 * time.Second
	popupTimeout   = 15 * time.Second
	fieldTimeout   = 10 * time.Second
	clickTimeout   = 5 * time.Second
)

// Config holds browser automation settings
type Config struct {
	Headless     bool
	Timeout      time.Duration // per form, navigation included
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	AfterSubmit  time.Duration // wait for the site to send its email
}

// DefaultConfig returns sensible default browser settings
func DefaultConfig() Config {
	return Config{
		Headless:     true,
		Timeout:      60 * time.Second,
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		WindowWidth:  1920,
		WindowHeight: 1080,
		AfterSubmit:  5 * time.Second,
	}
}

// ConfigFrom applies the process configuration over DefaultConfig.
func ConfigFrom(cfg config.BrowserConfig) Config {
	c := DefaultConfig()
	c.Headless = cfg.Headless
	if cfg.Timeout > 0 {
		c.Timeout = cfg.Timeout
	}
	return c
}

// Browser owns one Chrome instance and one page, reused for every form.
type Browser struct {
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	config      Config
	log         *slog.Logger
}

// New starts Chrome. JavaScript dialogs (alert/confirm) raised by a form are
// accepted automatically so they cannot stall the page.
func New(parent context.Context, cfg Config, log *slog.Logger) (*Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		chromedp.Flag("headless", cfg.Headless),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	b := &Browser{
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
		config:      cfg,
		log:         log,
	}

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if e, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			log.Info("accepting page dialog", "type", e.Type, "message", e.Message)
			go func() {
				if err := chromedp.Run(ctx, page.HandleJavaScriptDialog(true)); err != nil {
					log.Warn("failed to accept dialog", "error", err)
				}
			}()
		}
	})

	// The first Run launches the browser process.
	if err := chromedp.Run(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return b, nil
}

// Close cleans up browser resources
func (b *Browser) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
}

// Submit fills and submits one form. It never returns an error: every
// failure becomes an unsuccessful Result with a message.
func (b *Browser) Submit(ctx context.Context, job Job) Result {
	result := Result{Site: job.Form.Site, Form: job.Form.Name}
	target := job.Form.Target
	log := b.log.With("form", job.Form.Name)

	// chromedp actions run on the browser context; the caller's context only
	// cancels them.
	runCtx, cancel := context.WithTimeout(b.ctx, b.config.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	log.Info("navigating", "url", target.URL)
	if err := chromedp.Run(runCtx, chromedp.Navigate(target.URL), chromedp.WaitReady("body")); err != nil {
		return result.fail(log, fmt.Sprintf("navigation failed: %v", err))
	}

	if target.ConsentButton != "" {
		if err := b.click(runCtx, target.ConsentButton, consentTimeout); err != nil {
			log.Warn("consent button not clicked", "selector", target.ConsentButton, "error", err)
		} else {
			log.Info("consent accepted")
		}
	}

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err == nil {
		if info, err := InspectPage(html); err == nil {
			result.Page = info
			log.Info("page inspected", "forms", info.Forms, "inputs", info.Inputs, "captcha", info.Captcha)
			if info.CaptchaBlocking() {
				log.Warn("captcha on page, submission may be rejected", "captcha", info.Captcha)
			}
		}
	}

	scope := ""
	if target.PopupTrigger != "" {
		if err := b.openPopup(runCtx, target.PopupTrigger, target.PopupContainer); err != nil {
			return result.fail(log, fmt.Sprintf("popup form unavailable: %v", err))
		}
		scope = target.PopupContainer
		log.Info("popup form open", "container", scope)
	}

	for _, field := range fieldPlan(job) {
		if sel, ok := b.fillFirst(runCtx, scope, field.Selectors, field.Value); ok {
			result.FieldsFilled = append(result.FieldsFilled, field.Name)
			log.Debug("field filled", "field", field.Name, "selector", sel)
		} else {
			log.Warn("field not found or not visible", "field", field.Name)
		}
	}

	switch state, err := b.tickCheckbox(runCtx, scope, target.CheckboxLabel); {
	case err != nil:
		log.Error("checkbox not ticked", "error", err)
	case state != checkboxTicked:
		log.Warn("checkbox not ticked", "state", state)
	default:
		log.Info("checkbox ticked")
	}

	for _, sel := range target.ExtraClicks {
		if err := b.dispatchClick(runCtx, scoped(scope, sel), clickTimeout); err != nil {
			log.Warn("extra click failed", "selector", sel, "error", err)
		}
	}

	clicked := ""
	for _, sel := range submitSelectors {
		if err := b.click(runCtx, sel, clickTimeout); err == nil {
			clicked = sel
			break
		}
	}
	if clicked == "" {
		return result.fail(log, "submit button not found")
	}
	log.Info("submit clicked", "selector", clicked)

	if err := sleepCtx(runCtx, b.config.AfterSubmit); err != nil {
		return result.fail(log, fmt.Sprintf("interrupted after submit: %v", err))
	}

	result.Success = true
	result.Message = fmt.Sprintf("submitted form %s", job.Form.Name)
	log.Info(result.Message)
	return result
}

// openPopup clicks trigger and waits until container is shown and holds a form.
func (b *Browser) openPopup(ctx context.Context, trigger, container string) error {
	if err := b.click(ctx, trigger, popupTimeout); err != nil {
		return fmt.Errorf("trigger %s: %w", trigger, err)
	}
	if container == "" {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, popupTimeout)
	defer cancel()
	var shown bool
	if err := chromedp.Run(waitCtx, chromedp.Poll(visibleScript(container), &shown, chromedp.WithPollingInterval(250*time.Millisecond))); err != nil {
		return fmt.Errorf("container %s not shown: %w", container, err)
	}

	var hasForm bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(hasFormScript(container), &hasForm)); err != nil {
		return err
	}
	if !hasForm {
		return fmt.Errorf("no form inside %s", container)
	}
	return nil
}

// fillFirst tries selectors in order and fills the first visible match.
func (b *Browser) fillFirst(ctx context.Context, scope string, selectors []string, value string) (string, bool) {
	for _, sel := range selectors {
		full := scoped(scope, sel)
		waitCtx, cancel := context.WithTimeout(ctx, fieldTimeout)
		err := chromedp.Run(waitCtx,
			chromedp.WaitVisible(full, chromedp.ByQuery),
			chromedp.Clear(full, chromedp.ByQuery),
			chromedp.SendKeys(full, value, chromedp.ByQuery),
		)
		cancel()
		if err == nil {
			return sel, true
		}
	}
	return "", false
}

func (b *Browser) click(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return chromedp.Run(waitCtx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

// dispatchClick fires a synthetic click at the element centre. Styled labels
// on some sites ignore CDP mouse events but react to this.
func (b *Browser) dispatchClick(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var ok bool
	if err := chromedp.Run(waitCtx,
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.Evaluate(dispatchClickScript(selector), &ok),
	); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element %s not found", selector)
	}
	return nil
}

func (b *Browser) tickCheckbox(ctx context.Context, scope, labelOverride string) (string, error) {
	var state string
	err := chromedp.Run(ctx, chromedp.Evaluate(checkboxScript(scope, labelOverride), &state))
	return state, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

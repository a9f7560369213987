package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/metawebart/formwatch/internal/catalog"
	"github.com/metawebart/formwatch/internal/config"
	"github.com/metawebart/formwatch/internal/email"
	"github.com/metawebart/formwatch/internal/history"
	"github.com/metawebart/formwatch/internal/inbox"
	"github.com/metawebart/formwatch/internal/logging"
	"github.com/metawebart/formwatch/internal/notify"
	"github.com/metawebart/formwatch/internal/pipeline"
	"github.com/metawebart/formwatch/internal/web"
)

const (
	mainLogFile      = "formwatch.log"
	submitterLogFile = "submitter.log"
)

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	logs    io.Closer
}

// setup loads configuration, starts logging into logFile and loads the
// catalog. Config warnings are logged once the logger exists.
func setup(logFile string) (*app, error) {
	cfg, warnings, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if catalogFile != "" {
		cfg.CatalogFile = catalogFile
	}

	logs, err := logging.Setup(cfg.LogDir, logFile, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		slog.Warn("configuration", "warning", w)
	}

	cat, err := catalog.LoadFromFile(cfg.CatalogFile)
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return &app{cfg: cfg, catalog: cat, logs: logs}, nil
}

func (a *app) Close() {
	if a.logs != nil {
		a.logs.Close()
	}
}

func (a *app) newFetcher() *inbox.Fetcher {
	return inbox.NewFetcher(inbox.IMAPDialer(a.cfg.Inbox))
}

func (a *app) newJanitor() *inbox.Janitor {
	return inbox.NewJanitor(inbox.IMAPDialer(a.cfg.Inbox), a.cfg.Inbox.DeleteMatched)
}

// newNotifier builds the Telegram notifier with the optional email fallback
// and the dead-letter file in the log directory.
func (a *app) newNotifier() *notify.Notifier {
	if !a.cfg.NotifyConfigured() {
		slog.Warn("TELEGRAM_TOKEN or TELEGRAM_CHAT_ID not set, reports cannot reach Telegram")
	}

	opts := []notify.Option{
		notify.WithDeadLetter(notify.NewDeadLetter(filepath.Join(a.cfg.LogDir, notify.DeadLetterFile))),
	}

	sender, err := email.NewSender(a.cfg.Fallback)
	switch {
	case err != nil:
		slog.Error("email fallback disabled", "error", err)
	case sender != nil:
		engine, err := email.NewEngine()
		if err != nil {
			slog.Error("email fallback disabled", "error", err)
			break
		}
		opts = append(opts, notify.WithFallback(sender, engine, a.cfg.Fallback.From, a.cfg.Fallback.To))
		slog.Info("email fallback enabled", "provider", sender.Name())
	}

	return notify.New(a.cfg.Notify, opts...)
}

// openHistory opens the run history. Failure is logged and tolerated: runs
// proceed without being recorded.
func (a *app) openHistory() *history.Store {
	store, err := history.NewStore(a.cfg.HistoryDB)
	if err != nil {
		slog.Error("run history unavailable", "path", a.cfg.HistoryDB, "error", err)
		return nil
	}
	return store
}

func (a *app) newSequencer(store *history.Store) (*pipeline.Sequencer, error) {
	submitter, err := pipeline.NewExecSubmitter(a.cfg.CatalogFile)
	if err != nil {
		return nil, err
	}
	deps := pipeline.Deps{
		Submitter: submitter,
		Fetcher:   a.newFetcher(),
		Notifier:  a.newNotifier(),
		Janitor:   a.newJanitor(),
	}
	if store != nil {
		deps.Recorder = store
	}
	return pipeline.New(deps, a.catalog, pipeline.Options{
		Lookback: a.cfg.Inbox.Lookback(),
		Settle:   a.cfg.Schedule.SettleDelay,
	}), nil
}

// startStatusServer serves /healthz, /metrics and /api/runs when
// METRICS_ADDR is set. The returned func stops it.
func (a *app) startStatusServer(store *history.Store) func() {
	if a.cfg.MetricsAddr == "" {
		return func() {}
	}

	var runs web.RunStore
	if store != nil {
		runs = store
	}
	server := web.NewServer(a.cfg.MetricsAddr, runs)
	go func() {
		if err := server.Start(); err != nil {
			slog.Error("status server stopped", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

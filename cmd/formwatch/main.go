package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/metawebart/formwatch/internal/email"
	"github.com/metawebart/formwatch/internal/inbox"
	"github.com/metawebart/formwatch/internal/logging"
	"github.com/metawebart/formwatch/internal/matcher"
	"github.com/metawebart/formwatch/internal/schedule"
	"github.com/metawebart/formwatch/internal/submitter"
)

var catalogFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "formwatch",
		Short: "formwatch - verify that website lead forms deliver their emails",
		Long: `formwatch submits every configured website form with test data, waits for
the notification emails to arrive, checks the inbox for them and reports
which forms work to a Telegram chat.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&catalogFile, "catalog", "", "form catalog file (default is the built-in catalog, or CATALOG_FILE)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(onceCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(nextCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(testFallbackCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run verification daily at the scheduled time",
		Long: `Start the scheduler. A verification run starts every day at SCHEDULE_TIME
in SCHEDULE_TZ, and once immediately when RUN_ON_START is true. Stops on
SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler()
		},
	}
}

func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run one verification sequence and exit",
		Long:  "Submit the forms, wait, check the inbox, report and clean up once. Exits 0 even when stages fail.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce()
		},
	}
}

func checkCmd() *cobra.Command {
	var sendReport, cleanup bool
	var lookback time.Duration
	var mboxPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the inbox against the catalog without submitting forms",
		Long: `Fetch recent messages, match them to the catalog and print the report
and the per-form trace. Use --notify to deliver the report and --cleanup to
remove the matched messages. With --mbox the messages are read from an
exported mbox file instead of the IMAP server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(sendReport, cleanup, lookback, mboxPath)
		},
	}

	cmd.Flags().BoolVar(&sendReport, "notify", false, "Deliver the report to Telegram")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "Remove matched messages (honours DELETE_AFTER_PROCESSING)")
	cmd.Flags().DurationVar(&lookback, "lookback", 0, "Override LOOKBACK_MINUTES (e.g. 2h)")
	cmd.Flags().StringVar(&mboxPath, "mbox", "", "Read messages from this mbox file instead of IMAP")

	return cmd
}

func submitCmd() *cobra.Command {
	var formName string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Fill and submit every catalog form in a browser",
		Long:  "Drive headless Chrome through every form with a target. Exits 1 only when the browser cannot start.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(formName)
		},
	}

	cmd.Flags().StringVar(&formName, "form", "", "Submit only the form with this name")

	return cmd
}

func nextCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Print the next scheduled run times",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNext(count)
		},
	}

	cmd.Flags().IntVar(&count, "count", 1, "Number of upcoming runs to show")

	return cmd
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs and per-form reliability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Number of recent runs to show")

	return cmd
}

func catalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the effective form catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalog()
		},
	}
}

func testFallbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-fallback",
		Short: "Send a test message through the email fallback channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestFallback()
		},
	}
}

func runScheduler() error {
	a, err := setup(mainLogFile)
	if err != nil {
		return err
	}
	defer a.Close()

	store := a.openHistory()
	if store != nil {
		defer store.Close()
	}
	seq, err := a.newSequencer(store)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	stopServer := a.startStatusServer(store)
	defer stopServer()

	s := schedule.New(a.cfg.Schedule, func(ctx context.Context) { seq.Run(ctx) }, slog.Default())
	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func runOnce() error {
	a, err := setup(mainLogFile)
	if err != nil {
		return err
	}
	defer a.Close()

	store := a.openHistory()
	if store != nil {
		defer store.Close()
	}
	seq, err := a.newSequencer(store)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	out := seq.Run(ctx)
	fmt.Println(out.Verification.Report)
	return nil
}

func runCheck(sendReport, cleanup bool, lookback time.Duration, mboxPath string) error {
	a, err := setup(mainLogFile)
	if err != nil {
		return err
	}
	defer a.Close()

	if lookback <= 0 {
		lookback = a.cfg.Inbox.Lookback()
	}

	ctx, cancel := signalContext()
	defer cancel()

	fetcher := a.newFetcher()
	if mboxPath != "" {
		fetcher = inbox.NewFetcher(inbox.MboxDialer(mboxPath))
	}
	messages := fetcher.FetchRecent(ctx, lookback)
	result := matcher.Check(messages, a.catalog)

	fmt.Printf("Messages examined: %d (lookback %s)\n", len(messages), lookback)
	fmt.Println(matcher.RenderTrace(result.Outcomes))
	fmt.Println()
	fmt.Println("Report:")
	fmt.Println(result.Report)

	if sendReport {
		if a.newNotifier().Notify(ctx, result.Report) {
			fmt.Println("\n✅ Report delivered")
		} else {
			fmt.Println("\n❌ Report not delivered, see the log")
		}
	}
	if cleanup {
		if mboxPath != "" {
			return fmt.Errorf("--cleanup cannot be used with --mbox")
		}
		a.newJanitor().Cleanup(ctx, result.MatchedIDs)
	}
	return nil
}

func runSubmit(formName string) error {
	a, err := setup(submitterLogFile)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()
	if id := os.Getenv("FORMWATCH_RUN_ID"); id != "" {
		ctx = logging.WithRunID(ctx, id)
	}
	log := logging.FromContext(ctx).With("component", "submitter")

	b, err := submitter.New(ctx, submitter.ConfigFrom(a.cfg.Browser), log)
	if err != nil {
		log.Error("browser could not start", "error", err)
		a.Close()
		os.Exit(1)
	}
	defer b.Close()

	var results []submitter.Result
	if formName != "" {
		r, err := submitter.RunForm(ctx, b, a.catalog, formName, log)
		if err != nil {
			return err
		}
		results = append(results, r)
	} else {
		results = submitter.Run(ctx, b, a.catalog, log)
	}
	for _, r := range results {
		mark := "✅"
		if !r.Success {
			mark = "❌"
		}
		fmt.Printf("%s %s: %s\n", mark, r.Form, r.Message)
	}
	log.Info("submission run complete", "submitted", submitter.Succeeded(results), "total", len(results))
	return nil
}

func runNext(count int) error {
	a, err := setup(mainLogFile)
	if err != nil {
		return err
	}
	defer a.Close()

	log := slog.Default()
	tod := schedule.ParseOrDefault(a.cfg.Schedule.Time, log)
	loc := schedule.LoadLocation(a.cfg.Schedule.Timezone, log)

	now := time.Now()
	fmt.Printf("Schedule: daily at %s (%s)\n", tod, loc)
	for i := 0; i < max(count, 1); i++ {
		next := schedule.NextRun(now, tod, loc)
		fmt.Printf("  %s  (in %s)\n", next.Format("2006-01-02 15:04 MST"), next.Sub(time.Now()).Round(time.Second))
		now = next
	}
	return nil
}

func runHistory(limit int) error {
	a, err := setup(mainLogFile)
	if err != nil {
		return err
	}
	defer a.Close()

	store := a.openHistory()
	if store == nil {
		return fmt.Errorf("failed to open history at %s", a.cfg.HistoryDB)
	}
	defer store.Close()

	ctx := context.Background()
	runs, err := store.RecentRuns(ctx, limit)
	if err != nil {
		return err
	}

	fmt.Printf("📜 Recent runs (last %d)\n", limit)
	fmt.Println(strings.Repeat("━", 40))
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
	}
	for _, r := range runs {
		status := "✅"
		if !r.NotifyOK {
			status = "❌"
		}
		fmt.Printf("%s %s  forms working: %d  messages: %d  submit exit: %d\n",
			status, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Matched, r.Fetched, r.SubmitExitCode)
	}

	stats, err := store.FormStats(ctx)
	if err != nil {
		return err
	}
	if len(stats) > 0 {
		fmt.Println()
		fmt.Println("📊 Form reliability")
		fmt.Println(strings.Repeat("━", 40))
		for _, s := range stats {
			fmt.Printf("%-20s %-12s %3d/%-3d (%.0f%%)\n", s.Site, s.Form, s.Working, s.Runs, s.Ratio()*100)
		}
	}
	return nil
}

func runCatalog() error {
	a, err := setup(mainLogFile)
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := a.catalog.Marshal()
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

func runTestFallback() error {
	a, err := setup(mainLogFile)
	if err != nil {
		return err
	}
	defer a.Close()

	sender, err := email.NewSender(a.cfg.Fallback)
	if err != nil {
		return err
	}
	if sender == nil {
		return fmt.Errorf("FALLBACK_PROVIDER is not set")
	}
	engine, err := email.NewEngine()
	if err != nil {
		return err
	}
	rendered, err := engine.Render(email.TemplateTest, email.ReportData{})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Notify.Timeout)
	defer cancel()
	res := sender.Send(ctx, email.Message{
		From:    a.cfg.Fallback.From,
		To:      a.cfg.Fallback.To,
		Subject: rendered.Subject,
		Body:    rendered.Body,
	})
	if !res.Success {
		return fmt.Errorf("%s: %w", sender.Name(), res.Error)
	}
	fmt.Printf("✅ Test message sent via %s (id %s)\n", sender.Name(), res.MessageID)
	return nil
}

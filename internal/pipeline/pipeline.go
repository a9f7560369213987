// Package pipeline sequences one verification run: submit the forms, wait
// for their emails, inspect the inbox, report, and clean up the evidence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/metawebart/formwatch/internal/catalog"
	"github.com/metawebart/formwatch/internal/history"
	"github.com/metawebart/formwatch/internal/inbox"
	"github.com/metawebart/formwatch/internal/logging"
	"github.com/metawebart/formwatch/internal/matcher"
	"github.com/metawebart/formwatch/internal/metrics"
)

// Submitter runs the form submission step and reports its exit code.
type Submitter interface {
	Submit(ctx context.Context) (int, error)
}

// Fetcher lists recent inbox messages. Transport failures yield no messages.
type Fetcher interface {
	FetchRecent(ctx context.Context, lookback time.Duration) []inbox.Message
}

// Notifier delivers a report and reports whether it got through.
type Notifier interface {
	Notify(ctx context.Context, report string) bool
}

// Janitor removes consumed evidence.
type Janitor interface {
	Cleanup(ctx context.Context, uids []uint32)
}

// Recorder persists finished runs. Optional.
type Recorder interface {
	AddRun(ctx context.Context, run *history.Run, results []history.FormResult) error
}

// Deps are the collaborators a Sequencer drives.
type Deps struct {
	Submitter Submitter
	Fetcher   Fetcher
	Notifier  Notifier
	Janitor   Janitor
	Recorder  Recorder
}

// Options tune a Sequencer.
type Options struct {
	Lookback time.Duration
	Settle   time.Duration
}

// RunOutcome is what one sequence produced.
type RunOutcome struct {
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	SubmitExitCode int
	Messages       []inbox.Message
	Verification   matcher.Result
	NotifyOK       bool
	Failed         []State
}

// Sequencer runs the state machine. It is not safe for concurrent Run calls.
type Sequencer struct {
	deps    Deps
	catalog *catalog.Catalog
	opts    Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

func New(deps Deps, cat *catalog.Catalog, opts Options) *Sequencer {
	return &Sequencer{
		deps:    deps,
		catalog: cat,
		opts:    opts,
		now:     time.Now,
		sleep:   sleepCtx,
		newID:   func() string { return uuid.New().String() },
	}
}

// Run executes every state from StateStart to StateDone. A failing or
// panicking state is logged and recorded; the next state runs regardless.
func (s *Sequencer) Run(ctx context.Context) RunOutcome {
	out := RunOutcome{RunID: s.newID(), SubmitExitCode: -1}
	ctx = logging.WithRunID(ctx, out.RunID)
	log := logging.FromContext(ctx).With("component", "pipeline")

	for st := StateStart; st != StateDone; st = Next(st) {
		log.Debug("entering state", "state", st.String())
		if err := s.safeStep(ctx, st, &out); err != nil {
			out.Failed = append(out.Failed, st)
			metrics.StageFailures.WithLabelValues(st.String()).Inc()
			log.Error("stage failed", "state", st.String(), "error", err)
		}
	}
	s.finish(ctx, log, &out)
	return out
}

func (s *Sequencer) safeStep(ctx context.Context, st State, out *RunOutcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Step(ctx, st, out)
}

// Step performs the work of a single state, updating out.
func (s *Sequencer) Step(ctx context.Context, st State, out *RunOutcome) error {
	log := logging.FromContext(ctx).With("component", "pipeline", "state", st.String())

	switch st {
	case StateStart:
		out.StartedAt = s.now()
		log.Info("verification run started", "forms", len(s.catalog.Forms()))
		return nil

	case StateSubmitForms:
		if s.deps.Submitter == nil {
			return errors.New("no submitter configured")
		}
		code, err := s.deps.Submitter.Submit(ctx)
		out.SubmitExitCode = code
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("submitter exited with code %d", code)
		}
		return nil

	case StateSettleWait:
		log.Info("waiting for notification emails", "delay", s.opts.Settle.String())
		return s.sleep(ctx, s.opts.Settle)

	case StateFetch:
		out.Messages = s.deps.Fetcher.FetchRecent(ctx, s.opts.Lookback)
		log.Info("messages fetched", "count", len(out.Messages))
		return nil

	case StateMatch:
		out.Verification = matcher.Check(out.Messages, s.catalog)
		for _, o := range out.Verification.Outcomes {
			metrics.SetFormStatus(o.Form.Site, o.Form.Name, o.Working)
		}
		log.Info("forms checked",
			"working", out.Verification.WorkingCount(),
			"total", len(out.Verification.Outcomes),
			"matched_messages", len(out.Verification.MatchedIDs))
		log.Debug("match trace", "trace", matcher.RenderTrace(out.Verification.Outcomes))
		return nil

	case StateNotify:
		if out.Verification.Outcomes == nil {
			return errors.New("no verification result to report")
		}
		out.NotifyOK = s.deps.Notifier.Notify(ctx, out.Verification.Report)
		if !out.NotifyOK {
			return errors.New("report was not delivered")
		}
		return nil

	case StateCleanup:
		s.deps.Janitor.Cleanup(ctx, out.Verification.MatchedIDs)
		return nil

	default:
		return fmt.Errorf("unknown state %s", st)
	}
}

func (s *Sequencer) finish(ctx context.Context, log *slog.Logger, out *RunOutcome) {
	out.FinishedAt = s.now()
	metrics.RunsTotal.Inc()
	metrics.LastRunTimestamp.Set(float64(out.FinishedAt.Unix()))

	log.Info("verification run finished",
		"duration", out.FinishedAt.Sub(out.StartedAt).Round(time.Millisecond).String(),
		"submit_exit_code", out.SubmitExitCode,
		"notify_ok", out.NotifyOK,
		"failed_states", len(out.Failed))

	if s.deps.Recorder == nil {
		return
	}
	// Recording must succeed even when the run was cancelled.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	run, results := historyRecord(out)
	if err := s.deps.Recorder.AddRun(recCtx, run, results); err != nil {
		log.Error("failed to record run history", "error", err)
	}
}

func historyRecord(out *RunOutcome) (*history.Run, []history.FormResult) {
	run := &history.Run{
		RunID:          out.RunID,
		StartedAt:      out.StartedAt,
		FinishedAt:     out.FinishedAt,
		SubmitExitCode: out.SubmitExitCode,
		NotifyOK:       out.NotifyOK,
		Fetched:        len(out.Messages),
		Matched:        out.Verification.WorkingCount(),
		Report:         out.Verification.Report,
	}
	results := make([]history.FormResult, 0, len(out.Verification.Outcomes))
	for _, o := range out.Verification.Outcomes {
		results = append(results, history.FormResult{
			RunID:      out.RunID,
			Site:       o.Form.Site,
			Form:       o.Form.Name,
			Working:    o.Working,
			MatchedUID: o.MatchedUID,
		})
	}
	return run, results
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

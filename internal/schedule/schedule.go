// Package schedule runs the verification sequence once a day at a fixed
// wall-clock time in a configured zone.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/metawebart/formwatch/internal/config"
)

// TimeOfDay is a local wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay accepts "H:MM" or "HH:MM" in 24-hour form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(mm) != 2 || hh == "" || len(hh) > 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// ParseOrDefault parses s and falls back to config.DefaultScheduleTime,
// logging a warning, when s is malformed.
func ParseOrDefault(s string, log *slog.Logger) TimeOfDay {
	tod, err := ParseTimeOfDay(s)
	if err == nil {
		return tod
	}
	log.Warn("malformed schedule time, using default", "value", s, "default", config.DefaultScheduleTime, "error", err)
	tod, _ = ParseTimeOfDay(config.DefaultScheduleTime)
	return tod
}

// LoadLocation resolves a zone name, falling back to the default zone and
// then UTC when the name or the zone database is unavailable.
func LoadLocation(name string, log *slog.Logger) *time.Location {
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc
	}
	log.Warn("unknown time zone, using default", "value", name, "default", config.DefaultTimezone, "error", err)
	if loc, err := time.LoadLocation(config.DefaultTimezone); err == nil {
		return loc
	}
	log.Warn("default time zone unavailable, using UTC")
	return time.UTC
}

// NextRun returns the first occurrence of tod in loc strictly after now.
func NextRun(now time.Time, tod TimeOfDay, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), tod.Hour, tod.Minute, 0, 0, loc)
	if !next.After(now) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, tod.Hour, tod.Minute, 0, 0, loc)
	}
	return next
}

// UntilNextRun is the non-negative wait from now until NextRun.
func UntilNextRun(now time.Time, tod TimeOfDay, loc *time.Location) time.Duration {
	d := NextRun(now, tod, loc).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Job is one verification sequence. It must not block past ctx.
type Job func(ctx context.Context)

// Scheduler invokes a Job daily.
type Scheduler struct {
	tod        TimeOfDay
	loc        *time.Location
	runOnStart bool
	job        Job
	log        *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg config.ScheduleConfig, job Job, log *slog.Logger) *Scheduler {
	log = log.With("component", "scheduler")
	return &Scheduler{
		tod:        ParseOrDefault(cfg.Time, log),
		loc:        LoadLocation(cfg.Timezone, log),
		runOnStart: cfg.RunOnStart,
		job:        job,
		log:        log,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Next returns the next scheduled run after now.
func (s *Scheduler) Next() time.Time {
	return NextRun(s.now(), s.tod, s.loc)
}

// Run loops until ctx is cancelled, which is its only way out.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", "time", s.tod.String(), "zone", s.loc.String(), "run_on_start", s.runOnStart)

	if s.runOnStart {
		s.log.Info("running immediately on start")
		s.runJob(ctx)
	}

	for {
		now := s.now()
		wait := UntilNextRun(now, s.tod, s.loc)
		s.log.Info("next run scheduled",
			"at", NextRun(now, s.tod, s.loc).Format(time.RFC3339),
			"in", wait.Round(time.Second).String())

		if err := s.sleep(ctx, wait); err != nil {
			s.log.Info("scheduler stopped")
			return err
		}
		s.runJob(ctx)
	}
}

func (s *Scheduler) runJob(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("run panicked", "panic", r)
		}
	}()
	s.job(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package scheduler runs NudgePipe's periodic ticks on cron expressions.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Default cron expressions for the built-in jobs.
const (
	DailySpec        = "0 * * * *"
	WeeklySpec       = "0 18 * * 0"
	SessionSpec      = "* * * * *"
	MetricsResetSpec = "0 0 * * *"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	loc *time.Location
}

// WithLocation evaluates cron expressions in loc instead of the local zone.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.loc = loc }
}

// NewScheduler creates and starts a cron scheduler. A job still running when
// its next run is due is skipped for that run.
func NewScheduler(opts ...Option) *Scheduler {
	o := options{loc: time.Local}
	for _, opt := range opts {
		opt(&o)
	}
	// Standard 5-field cron parser (min, hour, dom, month, dow).
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(o.loc),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddNamedJob is AddJob with start and finish logging under name.
func (s *Scheduler) AddNamedJob(name, expr string, task func()) error {
	err := s.AddJob(expr, func() {
		start := time.Now()
		slog.Debug("Scheduler: job started", "job", name)
		task()
		slog.Debug("Scheduler: job finished", "job", name, "elapsed", time.Since(start))
	})
	if err != nil {
		slog.Error("Scheduler.AddNamedJob: invalid expression", "job", name, "expr", expr, "error", err)
		return err
	}
	slog.Info("Scheduler.AddNamedJob: scheduled", "job", name, "expr", expr)
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the scheduler and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the periodic maintenance jobs: retention sweeps, the idle reaper and rescoring
type Scheduler struct {
	c   *cron.Cron
	loc *time.Location
}

func NewScheduler(timezone string) *Scheduler {
	loc, err := time.LoadLocation(timezone)
	if err != nil || timezone == "" {
		if timezone != "" {
			slog.Warn("Unknown schedule timezone, using UTC", "timezone", timezone, "error", err)
		}
		loc = time.UTC
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	return &Scheduler{c: c, loc: loc}
}

// Add registers fn under a cron expression. An empty expression disables the job.
func (s *Scheduler) Add(name, expr string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if expr == "" {
		slog.Info("Scheduled job disabled", "job", name)
		return nil
	}
	_, err := s.c.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		start := time.Now()
		if err := fn(ctx); err != nil {
			slog.Error("Scheduled job failed", "job", name, "error", err, "duration", time.Since(start))
			return
		}
		slog.Debug("Scheduled job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s with %q: %w", name, expr, err)
	}
	slog.Info("Scheduled job registered", "job", name, "schedule", expr)
	return nil
}

func (s *Scheduler) Start() { s.c.Start() }

// Stop waits for running jobs to finish
func (s *Scheduler) Stop() { ctx := s.c.Stop(); <-ctx.Done() }

func (s *Scheduler) Entries() []cron.Entry { return s.c.Entries() }

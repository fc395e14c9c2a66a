package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"

	"todoapp/pkg/logger"
)

// Task is one scheduled run.
type Task func(ctx context.Context) error

// Scheduler fires a task on a cron timetable. Runs never overlap: a tick that
// passes while the task is still running is skipped.
type Scheduler struct {
	name string
	expr *cronexpr.Expression
	now  func() time.Time
}

// New parses a cron expression. Seven fields are seconds through year; five fields are the
// classic minute-based form.
func New(name, schedule string) (*Scheduler, error) {
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", schedule, err)
	}
	return &Scheduler{name: name, expr: expr, now: time.Now}, nil
}

// Next returns the first tick strictly after t, or the zero time if there is none.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.expr.Next(t)
}

// Run blocks until ctx is done, invoking task at every tick. Task errors are
// logged and do not stop the schedule.
func (s *Scheduler) Run(ctx context.Context, task Task) error {
	ctx = logger.With(ctx, "job", s.name)
	for {
		now := s.now()
		next := s.Next(now)
		if next.IsZero() {
			return errors.New("schedule has no future ticks")
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info(ctx, "Scheduler stopped")
			return nil
		case <-timer.C:
		}
		if err := task(ctx); err != nil {
			logger.Error(ctx, "Scheduled run failed", "error", err)
		}
	}
}

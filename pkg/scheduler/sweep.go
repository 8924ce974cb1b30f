package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseSweepSpec parses a five-field cron expression for RunSweeper.
func ParseSweepSpec(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse sweep spec %q: %w", spec, err)
	}
	return sched, nil
}

// RunSweeper re-runs the overflow check on the given cron cadence until
// ctx ends or the scheduler closes. It exists to retry swap appends that
// failed during completion handling; while nothing exceeds the ceiling a
// sweep is a no-op.
func (s *Scheduler) RunSweeper(ctx context.Context, spec string) error {
	sched, err := ParseSweepSpec(spec)
	if err != nil {
		return err
	}
	s.logger.Info("sweeper started", "spec", spec)
	for {
		timer := time.NewTimer(time.Until(sched.Next(time.Now())))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-s.ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if err := s.swapExcess(); err != nil {
			s.logger.Error("sweep overflow append failed", "error", err)
		}
	}
}

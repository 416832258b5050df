// Package scheduler runs fixed-interval loops and cron scheduled jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/newrelic/infra-integrations-sdk/v3/log"
)

// Cycle is one unit of work of a loop. A returned error is logged and the loop carries on.
type Cycle func(ctx context.Context) error

// RunEvery calls cycle, waits interval and calls it again until ctx is done.
// Cycles never overlap and a panicking cycle counts as a failed one.
func RunEvery(ctx context.Context, name string, interval time.Duration, cycle Cycle) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("[%s] Loop stopped", name)
			return
		case <-timer.C:
		}

		err := runCycle(ctx, cycle)
		if ctx.Err() != nil {
			log.Debug("[%s] Loop stopped", name)
			return
		}
		if err != nil {
			log.Error("[%s] Cycle failed: %v", name, err)
		}
		timer.Reset(interval)
	}
}

func runCycle(ctx context.Context, cycle Cycle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCyclePanicked, r)
		}
	}()
	return cycle(ctx)
}

// Group runs jobs on a cron schedule with a seconds field, e.g. "0 */5 * * * * *".
type Group struct {
	interval *cronexpr.Expression
}

func NewGroup(expression string) (Group, error) {
	interval, err := cronexpr.Parse(expression)
	if err != nil {
		return Group{}, fmt.Errorf("%w %q: %w", ErrInvalidSchedule, expression, err)
	}
	return Group{interval: interval}, nil
}

// Next returns the first run time after t.
func (group Group) Next(t time.Time) time.Time {
	return group.interval.Next(t)
}

// Schedule starts runner in the background on every run time of the group until ctx is done.
// The returned channel is closed once the job goroutine has exited.
func (group Group) Schedule(ctx context.Context, runner func(ctx context.Context), logName string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			now := time.Now()
			next := group.interval.Next(now)
			if next.IsZero() {
				log.Warn("No further runs scheduled for %s", logName)
				return
			}
			delay := next.Sub(now)

			log.Debug("Scheduled next run for %s in %+v", logName, delay)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
				if err := runCycle(ctx, func(ctx context.Context) error { runner(ctx); return nil }); err != nil {
					log.Error("Run of %s failed: %v", logName, err)
				}
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()
	return done
}

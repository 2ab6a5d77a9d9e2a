package jobs

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// Schedule yields the next run time strictly after a given instant.
type Schedule interface {
	Next(after time.Time) (time.Time, error)
}

// CronSchedule is a standard five-field cron expression.
type CronSchedule struct {
	expr string
}

func ParseCron(expr string) (CronSchedule, error) {
	if !gronx.New().IsValid(expr) {
		return CronSchedule{}, fmt.Errorf("invalid cron expression: %q", expr)
	}
	return CronSchedule{expr: expr}, nil
}

func (c CronSchedule) Next(after time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(c.expr, after, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("next tick for %q: %w", c.expr, err)
	}
	return next, nil
}

func (c CronSchedule) String() string {
	return c.expr
}

// Every runs at a fixed interval.
type Every time.Duration

func (e Every) Next(after time.Time) (time.Time, error) {
	if e <= 0 {
		return time.Time{}, fmt.Errorf("interval must be positive, got %v", time.Duration(e))
	}
	return after.Add(time.Duration(e)), nil
}

func (e Every) String() string {
	return "every " + time.Duration(e).String()
}

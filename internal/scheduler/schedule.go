package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"boardroom/internal/domain"
)

// onceScheme prefixes one-off schedules: "@at 2026-04-01T09:00:00Z".
const onceScheme = "@at "

var errNoOccurrence = errors.New("no future occurrence")

// NextRun returns the next UTC instant at hour:minute strictly after now.
func NextRun(hour, minute int, now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// DailyExpr renders a built-in time as a five-field cron expression.
func DailyExpr(hour, minute int) string {
	return fmt.Sprintf("%d %d * * *", minute, hour)
}

type onceSchedule struct {
	at time.Time
}

func (o onceSchedule) Next(t time.Time) time.Time {
	if o.at.After(t) {
		return o.at
	}
	return time.Time{}
}

// ParseSchedule accepts a five-field cron expression (minute hour dom month
// dow, interpreted in UTC), a cron descriptor such as @daily, or a one-off
// "@at <RFC 3339 time>".
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, domain.ScheduleError{Expr: expr, Err: errors.New("empty expression")}
	}
	if strings.HasPrefix(expr, onceScheme) {
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(strings.TrimPrefix(expr, onceScheme)))
		if err != nil {
			return nil, domain.ScheduleError{Expr: expr, Err: err}
		}
		return onceSchedule{at: at.UTC()}, nil
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, domain.ScheduleError{Expr: expr, Err: err}
	}
	return sched, nil
}

// IsOnce reports whether expr is a one-off schedule.
func IsOnce(expr string) bool {
	return strings.HasPrefix(strings.TrimSpace(expr), onceScheme)
}

// NextFor computes the next occurrence strictly after now.
func NextFor(expr string, now time.Time) (time.Time, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(now.UTC())
	if next.IsZero() {
		return time.Time{}, domain.ScheduleError{Expr: expr, Err: errNoOccurrence}
	}
	return next.UTC(), nil
}

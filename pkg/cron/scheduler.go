package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule parses a schedule spec string. Accepted forms:
//
//	at HH:MM         daily at the given wall-clock time
//	every <duration> fixed interval, Go duration syntax
//	M H DOM MON DOW  five-field cron expression
func ParseSchedule(spec string) (Schedule, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule is empty")
	}

	switch {
	case strings.HasPrefix(s, "at "):
		at := strings.TrimSpace(strings.TrimPrefix(s, "at "))
		if _, err := time.Parse("15:04", at); err != nil {
			return Schedule{}, fmt.Errorf("invalid time in %q (want at HH:MM)", spec)
		}
		return Schedule{Kind: ScheduleKindAt, At: at, Spec: s}, nil

	case strings.HasPrefix(s, "every "):
		raw := strings.TrimSpace(strings.TrimPrefix(s, "every "))
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid duration in %q: %w", spec, err)
		}
		if d <= 0 {
			return Schedule{}, fmt.Errorf("interval in %q must be positive", spec)
		}
		return Schedule{Kind: ScheduleKindEvery, Every: d, Spec: s}, nil

	default:
		if _, err := cronParser.Parse(s); err != nil {
			return Schedule{}, fmt.Errorf("invalid cron expression %q: %w", spec, err)
		}
		return Schedule{Kind: ScheduleKindCron, Expr: s, Spec: s}, nil
	}
}

// CalculateNextRun returns the next time the schedule fires after now.
func CalculateNextRun(schedule Schedule, now time.Time) (time.Time, error) {
	switch schedule.Kind {
	case ScheduleKindAt:
		t, err := time.Parse("15:04", schedule.At)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time %q (want HH:MM)", schedule.At)
		}
		next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	case ScheduleKindEvery:
		if schedule.Every <= 0 {
			return time.Time{}, fmt.Errorf("interval must be positive")
		}
		return now.Add(schedule.Every), nil

	case ScheduleKindCron:
		sched, err := cronParser.Parse(schedule.Expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", schedule.Expr, err)
		}
		return sched.Next(now), nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", schedule.Kind)
	}
}

// retryBackoff returns how long to wait before retrying a job that has
// failed consecutiveErrors times in a row: 30s, 1m, 5m, 15m, then 60m.
func retryBackoff(consecutiveErrors int) time.Duration {
	if consecutiveErrors <= 0 {
		return 0
	}
	ladder := []time.Duration{
		30 * time.Second,
		1 * time.Minute,
		5 * time.Minute,
		15 * time.Minute,
		60 * time.Minute,
	}
	if consecutiveErrors > len(ladder) {
		return ladder[len(ladder)-1]
	}
	return ladder[consecutiveErrors-1]
}

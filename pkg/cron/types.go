package cron

import (
	"context"
	"time"
)

// ScheduleKind selects how a schedule fires.
type ScheduleKind string

const (
	ScheduleKindAt    ScheduleKind = "at"    // daily at a wall-clock time
	ScheduleKindEvery ScheduleKind = "every" // fixed interval
	ScheduleKindCron  ScheduleKind = "cron"  // five-field cron expression
)

// Schedule is a parsed maintenance schedule.
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// For "at" schedules: wall-clock time as "HH:MM".
	At string `json:"at,omitempty"`

	// For "every" schedules.
	Every time.Duration `json:"every,omitempty"`

	// For "cron" schedules: five-field expression.
	Expr string `json:"expr,omitempty"`

	// Spec is the original schedule string, kept for display.
	Spec string `json:"spec"`
}

// JobFunc is the work a maintenance job performs. The context is
// cancelled when the service stops.
type JobFunc func(ctx context.Context) error

// JobStatus is a point-in-time snapshot of one job's state.
type JobStatus struct {
	Name              string        `json:"name"`
	Spec              string        `json:"spec"`
	NextRun           time.Time     `json:"next_run"`
	LastRun           time.Time     `json:"last_run"`
	LastDuration      time.Duration `json:"last_duration"`
	LastStatus        string        `json:"last_status,omitempty"` // "ok" or "error"
	LastError         string        `json:"last_error,omitempty"`
	ConsecutiveErrors int           `json:"consecutive_errors,omitempty"`
	Runs              int           `json:"runs"`
}

package backend

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidTransition is returned when an operation would move a
// schedule's status outside the permitted state machine
var ErrInvalidTransition = errors.New("invalid schedule status transition")

// Scheduler is the capability every timer technology implements. The
// reconciliation engine depends on schedulers only through this
// interface; concrete backends are swappable implementations.
type Scheduler interface {
	// StartSchedule activates the backend artifact for the named
	// schedule and moves its record to RUNNING
	StartSchedule(ctx context.Context, collection, name string) error

	// StopSchedule deactivates the backend artifact without deleting
	// the record, and moves the record to STOPPED
	StopSchedule(ctx context.Context, collection, name string) error

	// EndSchedule deactivates and permanently removes both the backend
	// artifact and the record. Ending an absent schedule is an error so
	// callers can detect store/backend divergence.
	EndSchedule(ctx context.Context, collection, name string) error

	// GetLogPath returns where firing logs for the schedule can be
	// found. Purely informational; never mutates state.
	GetLogPath(ctx context.Context, collection, name string) (string, error)
}

// FireEvent is published on every firing of a schedule. Consumers that
// execute the actual work subscribe to these; execution itself is outside
// this system.
type FireEvent struct {
	ID              string            `json:"id"`
	Collection      string            `json:"collection"`
	Name            string            `json:"name"`
	CronSchedule    string            `json:"cron_schedule"`
	EnvironmentVars map[string]string `json:"environment_vars,omitempty"`
	InterpreterPath string            `json:"interpreter_path,omitempty"`
	SourcePath      string            `json:"source_path,omitempty"`
	FiredAt         time.Time         `json:"fired_at"`
}

const (
	scheduleStreamName  = "SCHEDULES"
	scheduleFireSubject = "schedule.fire"

	streamMaxAge  = 24 * time.Hour
	streamMaxMsgs = -1
)

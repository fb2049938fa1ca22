package model

// ScheduleStatus represents the operational status of a schedule
type ScheduleStatus string

const (
	ScheduleStatusRunning ScheduleStatus = "RUNNING"
	ScheduleStatusStopped ScheduleStatus = "STOPPED"
	ScheduleStatusEnded   ScheduleStatus = "ENDED"
)

// Valid reports whether the status is one of the known values
func (s ScheduleStatus) Valid() bool {
	switch s {
	case ScheduleStatusRunning, ScheduleStatusStopped, ScheduleStatusEnded:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving
// from s to next. ENDED is terminal.
func (s ScheduleStatus) CanTransitionTo(next ScheduleStatus) bool {
	switch s {
	case ScheduleStatusStopped:
		return next == ScheduleStatusRunning || next == ScheduleStatusEnded
	case ScheduleStatusRunning:
		return next == ScheduleStatusStopped || next == ScheduleStatusEnded
	}
	return false
}

// ScheduleDefinitionData is the desired-state description of a recurring
// job. It is immutable for the duration of a reconciliation pass.
type ScheduleDefinitionData struct {
	Name            string            `json:"name" mapstructure:"name"`
	CronSchedule    string            `json:"cron_schedule" mapstructure:"cron_schedule"`
	EnvironmentVars map[string]string `json:"environment_vars,omitempty" mapstructure:"environment_vars"`
}

// Equal reports whether two definitions agree on every monitored field
func (d ScheduleDefinitionData) Equal(other ScheduleDefinitionData) bool {
	if d.Name != other.Name || d.CronSchedule != other.CronSchedule {
		return false
	}
	if len(d.EnvironmentVars) != len(other.EnvironmentVars) {
		return false
	}
	for k, v := range d.EnvironmentVars {
		if ov, ok := other.EnvironmentVars[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// ExecutionContext locates the code a firing should run: the interpreter
// used to resolve it and the collection the source lives in. Both are
// opaque to the reconciler.
type ExecutionContext struct {
	InterpreterPath string `json:"interpreter_path"`
	SourcePath      string `json:"source_path"`
}

// Schedule is the persisted record pairing a definition snapshot with its
// operational status and execution context. Schedules are values: updates
// produce a new Schedule, never in-place mutation.
type Schedule struct {
	Definition ScheduleDefinitionData `json:"definition"`
	Status     ScheduleStatus         `json:"status"`
	Context    ExecutionContext       `json:"execution_context"`
}

// NewSchedule creates a schedule record
func NewSchedule(def ScheduleDefinitionData, status ScheduleStatus, execCtx ExecutionContext) Schedule {
	return Schedule{
		Definition: def,
		Status:     status,
		Context:    execCtx,
	}
}

// Name returns the schedule's unique name
func (s Schedule) Name() string {
	return s.Definition.Name
}

// CronSchedule returns the schedule's cron expression
func (s Schedule) CronSchedule() string {
	return s.Definition.CronSchedule
}

// EnvironmentVars returns the schedule's environment mapping
func (s Schedule) EnvironmentVars() map[string]string {
	return s.Definition.EnvironmentVars
}

// WithStatus returns a copy of the schedule carrying the given status
func (s Schedule) WithStatus(status ScheduleStatus) Schedule {
	return Schedule{
		Definition: s.Definition,
		Status:     status,
		Context:    s.Context,
	}
}

// WithDefinition returns a copy of the schedule carrying the given
// definition and execution context while preserving the status
func (s Schedule) WithDefinition(def ScheduleDefinitionData, execCtx ExecutionContext) Schedule {
	return Schedule{
		Definition: def,
		Status:     s.Status,
		Context:    execCtx,
	}
}

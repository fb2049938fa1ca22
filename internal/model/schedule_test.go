package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleStatusTransitions(t *testing.T) {
	cases := []struct {
		from    ScheduleStatus
		to      ScheduleStatus
		allowed bool
	}{
		{ScheduleStatusStopped, ScheduleStatusRunning, true},
		{ScheduleStatusStopped, ScheduleStatusEnded, true},
		{ScheduleStatusRunning, ScheduleStatusStopped, true},
		{ScheduleStatusRunning, ScheduleStatusEnded, true},
		{ScheduleStatusStopped, ScheduleStatusStopped, false},
		{ScheduleStatusRunning, ScheduleStatusRunning, false},
		{ScheduleStatusEnded, ScheduleStatusRunning, false},
		{ScheduleStatusEnded, ScheduleStatusStopped, false},
		{ScheduleStatusEnded, ScheduleStatusEnded, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestScheduleAccessorsDelegate(t *testing.T) {
	def := ScheduleDefinitionData{
		Name:            "nightly-report",
		CronSchedule:    "0 0 * * *",
		EnvironmentVars: map[string]string{"ENV": "prod"},
	}
	execCtx := ExecutionContext{
		InterpreterPath: "/usr/bin/python3",
		SourcePath:      "/srv/jobs",
	}

	schedule := NewSchedule(def, ScheduleStatusStopped, execCtx)

	assert.Equal(t, "nightly-report", schedule.Name())
	assert.Equal(t, "0 0 * * *", schedule.CronSchedule())
	assert.Equal(t, map[string]string{"ENV": "prod"}, schedule.EnvironmentVars())
}

func TestScheduleWithStatusReturnsNewValue(t *testing.T) {
	schedule := NewSchedule(
		ScheduleDefinitionData{Name: "hourly", CronSchedule: "0 * * * *"},
		ScheduleStatusStopped,
		ExecutionContext{},
	)

	running := schedule.WithStatus(ScheduleStatusRunning)

	assert.Equal(t, ScheduleStatusRunning, running.Status)
	assert.Equal(t, ScheduleStatusStopped, schedule.Status, "original must not change")
	assert.Equal(t, schedule.Definition, running.Definition)
}

func TestScheduleWithDefinitionPreservesStatus(t *testing.T) {
	schedule := NewSchedule(
		ScheduleDefinitionData{Name: "hourly", CronSchedule: "0 * * * *"},
		ScheduleStatusRunning,
		ExecutionContext{InterpreterPath: "/usr/bin/python3"},
	)

	newDef := ScheduleDefinitionData{Name: "hourly", CronSchedule: "*/30 * * * *"}
	newCtx := ExecutionContext{InterpreterPath: "/usr/local/bin/python3", SourcePath: "/srv/jobs"}

	updated := schedule.WithDefinition(newDef, newCtx)

	assert.Equal(t, ScheduleStatusRunning, updated.Status)
	assert.Equal(t, "*/30 * * * *", updated.CronSchedule())
	assert.Equal(t, newCtx, updated.Context)
	assert.Equal(t, "0 * * * *", schedule.CronSchedule(), "original must not change")
}

func TestDefinitionEqual(t *testing.T) {
	base := ScheduleDefinitionData{
		Name:            "sync",
		CronSchedule:    "*/5 * * * *",
		EnvironmentVars: map[string]string{"A": "1", "B": "2"},
	}

	same := ScheduleDefinitionData{
		Name:            "sync",
		CronSchedule:    "*/5 * * * *",
		EnvironmentVars: map[string]string{"B": "2", "A": "1"},
	}
	assert.True(t, base.Equal(same), "map order must not matter")

	differentCron := base
	differentCron.CronSchedule = "0 * * * *"
	assert.False(t, base.Equal(differentCron))

	differentEnv := ScheduleDefinitionData{
		Name:            "sync",
		CronSchedule:    "*/5 * * * *",
		EnvironmentVars: map[string]string{"A": "1", "B": "changed"},
	}
	assert.False(t, base.Equal(differentEnv))
}

func TestDefinitionValidate(t *testing.T) {
	valid := ScheduleDefinitionData{Name: "ok", CronSchedule: "*/5 * * * *"}
	require.NoError(t, valid.Validate())

	descriptor := ScheduleDefinitionData{Name: "daily", CronSchedule: "@daily"}
	require.NoError(t, descriptor.Validate())

	noName := ScheduleDefinitionData{CronSchedule: "* * * * *"}
	err := noName.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	badCron := ScheduleDefinitionData{Name: "bad", CronSchedule: "not a cron"}
	err = badCron.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

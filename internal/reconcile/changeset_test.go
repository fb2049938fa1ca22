package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/schedule-reconciler/internal/model"
)

func record(name, cronExpr string, status model.ScheduleStatus) model.Schedule {
	return model.NewSchedule(
		model.ScheduleDefinitionData{Name: name, CronSchedule: cronExpr},
		status,
		model.ExecutionContext{},
	)
}

func changesByName(changes []Change) map[string]Change {
	out := make(map[string]Change, len(changes))
	for _, c := range changes {
		out[c.Name] = c
	}
	return out
}

func TestComputeChangeSet(t *testing.T) {
	t.Run("Classifies Added Changed And Removed", func(t *testing.T) {
		old := []model.Schedule{
			record("a", "* * * * *", model.ScheduleStatusRunning),
			record("b", "0 0 * * *", model.ScheduleStatusStopped),
		}
		defs := []model.ScheduleDefinitionData{
			{Name: "a", CronSchedule: "*/5 * * * *"},
			{Name: "c", CronSchedule: "0 12 * * *"},
		}

		changes, err := ComputeChangeSet(old, defs)
		require.NoError(t, err)
		require.Len(t, changes, 3)

		byName := changesByName(changes)

		require.Contains(t, byName, "a")
		assert.Equal(t, ChangeUpdate, byName["a"].Kind)
		require.Len(t, byName["a"].Diffs, 1)
		assert.Equal(t, FieldDiff{
			Field: "cron_schedule",
			Old:   "* * * * *",
			New:   "*/5 * * * *",
		}, byName["a"].Diffs[0])

		require.Contains(t, byName, "b")
		assert.Equal(t, ChangeRemove, byName["b"].Kind)
		assert.Empty(t, byName["b"].Diffs)

		require.Contains(t, byName, "c")
		assert.Equal(t, ChangeAdd, byName["c"].Kind)
		assert.Empty(t, byName["c"].Diffs)
	})

	t.Run("Unchanged Names Produce No Entry", func(t *testing.T) {
		old := []model.Schedule{record("same", "0 * * * *", model.ScheduleStatusRunning)}
		defs := []model.ScheduleDefinitionData{{Name: "same", CronSchedule: "0 * * * *"}}

		changes, err := ComputeChangeSet(old, defs)
		require.NoError(t, err)
		assert.Empty(t, changes)
	})

	t.Run("Environment Changes Are Monitored", func(t *testing.T) {
		old := []model.Schedule{
			model.NewSchedule(
				model.ScheduleDefinitionData{
					Name:            "env-job",
					CronSchedule:    "0 * * * *",
					EnvironmentVars: map[string]string{"A": "1"},
				},
				model.ScheduleStatusStopped,
				model.ExecutionContext{},
			),
		}
		defs := []model.ScheduleDefinitionData{
			{
				Name:            "env-job",
				CronSchedule:    "0 * * * *",
				EnvironmentVars: map[string]string{"A": "1", "B": "2"},
			},
		}

		changes, err := ComputeChangeSet(old, defs)
		require.NoError(t, err)
		require.Len(t, changes, 1)
		assert.Equal(t, ChangeUpdate, changes[0].Kind)
		require.Len(t, changes[0].Diffs, 1)
		assert.Equal(t, "environment_vars", changes[0].Diffs[0].Field)
		assert.Equal(t, "A=1", changes[0].Diffs[0].Old)
		assert.Equal(t, "A=1,B=2", changes[0].Diffs[0].New)
	})

	t.Run("Identical Env In Different Map Order Is No Diff", func(t *testing.T) {
		old := []model.Schedule{
			model.NewSchedule(
				model.ScheduleDefinitionData{
					Name:            "env-job",
					CronSchedule:    "0 * * * *",
					EnvironmentVars: map[string]string{"X": "1", "Y": "2"},
				},
				model.ScheduleStatusStopped,
				model.ExecutionContext{},
			),
		}
		defs := []model.ScheduleDefinitionData{
			{
				Name:            "env-job",
				CronSchedule:    "0 * * * *",
				EnvironmentVars: map[string]string{"Y": "2", "X": "1"},
			},
		}

		changes, err := ComputeChangeSet(old, defs)
		require.NoError(t, err)
		assert.Empty(t, changes)
	})

	t.Run("Empty Inputs", func(t *testing.T) {
		changes, err := ComputeChangeSet(nil, nil)
		require.NoError(t, err)
		assert.Empty(t, changes)
	})

	t.Run("Duplicate Definition Names Fail Loudly", func(t *testing.T) {
		defs := []model.ScheduleDefinitionData{
			{Name: "dup", CronSchedule: "* * * * *"},
			{Name: "dup", CronSchedule: "0 * * * *"},
		}

		_, err := ComputeChangeSet(nil, defs)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDuplicateDefinition)
	})

	t.Run("Duplicate Record Names Fail Loudly", func(t *testing.T) {
		old := []model.Schedule{
			record("dup", "* * * * *", model.ScheduleStatusStopped),
			record("dup", "0 * * * *", model.ScheduleStatusStopped),
		}

		_, err := ComputeChangeSet(old, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDuplicateRecord)
	})
}

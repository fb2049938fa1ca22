package backend

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-reconciler/internal/model"
	"github.com/t77yq/schedule-reconciler/internal/store"
	"github.com/t77yq/schedule-reconciler/internal/testutil"
)

func newCronFixture(t *testing.T) (*CronScheduler, *store.SQLiteStore, *LogManager) {
	t.Helper()

	js, cleanup := testutil.SetupJetStream(t)
	t.Cleanup(cleanup)

	dbPath := filepath.Join(t.TempDir(), "schedules.db")
	records, err := store.NewSQLiteStore(zap.NewNop(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	logs, err := NewLogManager(LogConfig{
		LogDir:        t.TempDir(),
		FlushInterval: 50 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(logs.Stop)

	scheduler, err := NewCronScheduler(js, records, records, logs, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(scheduler.Close)

	return scheduler, records, logs
}

func stoppedRecord(name, cronExpr string) model.Schedule {
	return model.NewSchedule(
		model.ScheduleDefinitionData{Name: name, CronSchedule: cronExpr},
		model.ScheduleStatusStopped,
		model.ExecutionContext{
			InterpreterPath: "/usr/bin/python3",
			SourcePath:      "/srv/jobs",
		},
	)
}

func TestCronSchedulerLifecycle(t *testing.T) {
	scheduler, records, _ := newCronFixture(t)
	ctx := context.Background()

	require.NoError(t, records.AddRecord(ctx, "repo", stoppedRecord("lifecycle", "0 * * * *")))

	t.Run("Start", func(t *testing.T) {
		require.NoError(t, scheduler.StartSchedule(ctx, "repo", "lifecycle"))

		stored, err := records.GetRecord(ctx, "repo", "lifecycle")
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, model.ScheduleStatusRunning, stored.Status)

		scheduler.mu.Lock()
		_, registered := scheduler.entries["repo/lifecycle"]
		scheduler.mu.Unlock()
		assert.True(t, registered, "cron entry registered")
	})

	t.Run("Start Again Is Invalid", func(t *testing.T) {
		err := scheduler.StartSchedule(ctx, "repo", "lifecycle")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("Stop", func(t *testing.T) {
		require.NoError(t, scheduler.StopSchedule(ctx, "repo", "lifecycle"))

		stored, err := records.GetRecord(ctx, "repo", "lifecycle")
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, model.ScheduleStatusStopped, stored.Status)

		scheduler.mu.Lock()
		_, registered := scheduler.entries["repo/lifecycle"]
		scheduler.mu.Unlock()
		assert.False(t, registered, "cron entry removed")
	})

	t.Run("End", func(t *testing.T) {
		require.NoError(t, scheduler.EndSchedule(ctx, "repo", "lifecycle"))

		stored, err := records.GetRecord(ctx, "repo", "lifecycle")
		require.NoError(t, err)
		assert.Nil(t, stored, "record deleted by end")
	})

	t.Run("End Again Surfaces Not Found", func(t *testing.T) {
		err := scheduler.EndSchedule(ctx, "repo", "lifecycle")
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestCronSchedulerMissingRecord(t *testing.T) {
	scheduler, _, _ := newCronFixture(t)
	ctx := context.Background()

	err := scheduler.StartSchedule(ctx, "repo", "absent")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = scheduler.StopSchedule(ctx, "repo", "absent")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = scheduler.GetLogPath(ctx, "repo", "absent")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCronSchedulerRejectsBadStoredExpression(t *testing.T) {
	scheduler, records, _ := newCronFixture(t)
	ctx := context.Background()

	require.NoError(t, records.AddRecord(ctx, "repo", stoppedRecord("broken", "not a cron")))

	err := scheduler.StartSchedule(ctx, "repo", "broken")
	require.Error(t, err)

	stored, getErr := records.GetRecord(ctx, "repo", "broken")
	require.NoError(t, getErr)
	require.NotNil(t, stored)
	assert.Equal(t, model.ScheduleStatusStopped, stored.Status, "status unchanged on failure")
}

func TestCronSchedulerGetLogPath(t *testing.T) {
	scheduler, records, logs := newCronFixture(t)
	ctx := context.Background()

	require.NoError(t, records.AddRecord(ctx, "repo", stoppedRecord("logged", "0 * * * *")))

	path, err := scheduler.GetLogPath(ctx, "repo", "logged")
	require.NoError(t, err)
	assert.Equal(t, logs.Path("repo", "logged"), path)

	// Informational only: the record is untouched.
	stored, err := records.GetRecord(ctx, "repo", "logged")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.ScheduleStatusStopped, stored.Status)
}

func TestCronSchedulerResume(t *testing.T) {
	scheduler, records, _ := newCronFixture(t)
	ctx := context.Background()

	running := stoppedRecord("was-running", "0 * * * *").WithStatus(model.ScheduleStatusRunning)
	require.NoError(t, records.AddRecord(ctx, "repo", running))
	require.NoError(t, records.AddRecord(ctx, "repo", stoppedRecord("was-stopped", "0 0 * * *")))

	require.NoError(t, scheduler.Resume(ctx, "repo"))

	scheduler.mu.Lock()
	_, runningRegistered := scheduler.entries["repo/was-running"]
	_, stoppedRegistered := scheduler.entries["repo/was-stopped"]
	scheduler.mu.Unlock()

	assert.True(t, runningRegistered)
	assert.False(t, stoppedRegistered)
}

func TestCronSchedulerFirePublishesEvent(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	t.Cleanup(cleanup)

	dbPath := filepath.Join(t.TempDir(), "schedules.db")
	records, err := store.NewSQLiteStore(zap.NewNop(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	logs, err := NewLogManager(LogConfig{
		LogDir:        t.TempDir(),
		FlushInterval: 50 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	scheduler, err := NewCronScheduler(js, records, records, logs, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(scheduler.Close)

	record := stoppedRecord("fired", "0 * * * *")
	scheduler.fire("repo", record)

	messages, err := testutil.ConsumeMessages(js, "schedule.fire.fired", 2*time.Second)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	var event FireEvent
	require.NoError(t, json.Unmarshal(messages[0], &event))
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "repo", event.Collection)
	assert.Equal(t, "fired", event.Name)
	assert.Equal(t, "0 * * * *", event.CronSchedule)
	assert.Equal(t, "/usr/bin/python3", event.InterpreterPath)

	// The firing is also recorded in history and the firing log.
	firings, err := records.RecentFirings(context.Background(), "repo", "fired", 10)
	require.NoError(t, err)
	require.Len(t, firings, 1)
	assert.Equal(t, event.ID, firings[0].ID)

	logs.Flush()
	assert.FileExists(t, logs.Path("repo", "fired"))
	logs.Stop()
}

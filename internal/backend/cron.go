package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-reconciler/internal/model"
	"github.com/t77yq/schedule-reconciler/internal/store"
)

// CronScheduler drives schedules with an in-process cron runner. Every
// RUNNING record owns one cron entry regenerated from the stored
// definition; firings are published to JetStream and appended to the
// schedule's firing log.
type CronScheduler struct {
	logger  *zap.Logger
	js      nats.JetStreamContext
	records store.RecordStore
	history store.FiringHistory
	logs    *LogManager
	cron    *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// NewCronScheduler creates a cron-backed scheduler and ensures the
// schedule fire stream exists
func NewCronScheduler(js nats.JetStreamContext, records store.RecordStore, history store.FiringHistory, logs *LogManager, logger *zap.Logger) (*CronScheduler, error) {
	cl := &cronLogger{logger: logger.Named("cron")}

	s := &CronScheduler{
		logger:  logger.Named("cron-backend"),
		js:      js,
		records: records,
		history: history,
		logs:    logs,
		cron:    cron.New(cron.WithChain(cron.Recover(cl))),
		entries: make(map[string]cron.EntryID),
	}

	if err := s.setupStream(); err != nil {
		return nil, err
	}

	s.cron.Start()
	return s, nil
}

func (s *CronScheduler) setupStream() error {
	_, err := s.js.StreamInfo(scheduleStreamName)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return fmt.Errorf("failed to get stream info: %w", err)
		}

		_, err = s.js.AddStream(&nats.StreamConfig{
			Name:     scheduleStreamName,
			Subjects: []string{scheduleFireSubject + ".*"},
			Storage:  nats.FileStorage,
			MaxAge:   streamMaxAge,
			MaxMsgs:  streamMaxMsgs,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		s.logger.Info("Created schedule fire stream", zap.String("name", scheduleStreamName))
	} else {
		s.logger.Info("Using existing schedule fire stream", zap.String("name", scheduleStreamName))
	}
	return nil
}

// Resume re-registers cron entries for every RUNNING record in the
// collection. Called once at startup so timers survive process restarts.
func (s *CronScheduler) Resume(ctx context.Context, collection string) error {
	records, err := s.records.AllRecords(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to list schedule records: %w", err)
	}

	for _, record := range records {
		if record.Status != model.ScheduleStatusRunning {
			continue
		}
		if err := s.addEntry(collection, record); err != nil {
			return err
		}
	}

	s.logger.Info("Resumed running schedules",
		zap.String("collection", collection),
		zap.Int("total_records", len(records)))
	return nil
}

// Close stops the cron runner and waits for in-flight firings
func (s *CronScheduler) Close() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// StartSchedule implements Scheduler.StartSchedule
func (s *CronScheduler) StartSchedule(ctx context.Context, collection, name string) error {
	record, err := s.loadRecord(ctx, collection, name)
	if err != nil {
		return err
	}

	if !record.Status.CanTransitionTo(model.ScheduleStatusRunning) {
		return fmt.Errorf("start %s/%s from %s: %w", collection, name, record.Status, ErrInvalidTransition)
	}

	// Entry first; a failed store write removes it again.
	if err := s.addEntry(collection, *record); err != nil {
		return err
	}

	if err := s.records.UpdateRecord(ctx, collection, record.WithStatus(model.ScheduleStatusRunning)); err != nil {
		s.removeEntry(collection, name)
		return fmt.Errorf("failed to mark schedule running: %w", err)
	}

	s.logger.Info("Started schedule",
		zap.String("collection", collection),
		zap.String("name", name),
		zap.String("expression", record.CronSchedule()))
	return nil
}

// StopSchedule implements Scheduler.StopSchedule
func (s *CronScheduler) StopSchedule(ctx context.Context, collection, name string) error {
	record, err := s.loadRecord(ctx, collection, name)
	if err != nil {
		return err
	}

	if !record.Status.CanTransitionTo(model.ScheduleStatusStopped) {
		return fmt.Errorf("stop %s/%s from %s: %w", collection, name, record.Status, ErrInvalidTransition)
	}

	s.removeEntry(collection, name)

	if err := s.records.UpdateRecord(ctx, collection, record.WithStatus(model.ScheduleStatusStopped)); err != nil {
		return fmt.Errorf("failed to mark schedule stopped: %w", err)
	}

	s.logger.Info("Stopped schedule",
		zap.String("collection", collection),
		zap.String("name", name))
	return nil
}

// EndSchedule implements Scheduler.EndSchedule
func (s *CronScheduler) EndSchedule(ctx context.Context, collection, name string) error {
	record, err := s.loadRecord(ctx, collection, name)
	if err != nil {
		return err
	}

	if !record.Status.CanTransitionTo(model.ScheduleStatusEnded) {
		return fmt.Errorf("end %s/%s from %s: %w", collection, name, record.Status, ErrInvalidTransition)
	}

	s.removeEntry(collection, name)

	if err := s.logs.Remove(collection, name); err != nil {
		s.logger.Warn("Failed to remove firing log",
			zap.String("collection", collection),
			zap.String("name", name),
			zap.Error(err))
	}

	if err := s.records.DeleteRecord(ctx, collection, name); err != nil {
		return fmt.Errorf("failed to delete schedule record: %w", err)
	}

	s.logger.Info("Ended schedule",
		zap.String("collection", collection),
		zap.String("name", name))
	return nil
}

// GetLogPath implements Scheduler.GetLogPath
func (s *CronScheduler) GetLogPath(ctx context.Context, collection, name string) (string, error) {
	if _, err := s.loadRecord(ctx, collection, name); err != nil {
		return "", err
	}
	return s.logs.Path(collection, name), nil
}

func (s *CronScheduler) loadRecord(ctx context.Context, collection, name string) (*model.Schedule, error) {
	record, err := s.records.GetRecord(ctx, collection, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule record: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("schedule %s/%s: %w", collection, name, store.ErrNotFound)
	}
	return record, nil
}

func (s *CronScheduler) addEntry(collection string, record model.Schedule) error {
	key := collection + "/" + record.Name()

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok {
		s.cron.Remove(old)
	}

	entryID, err := s.cron.AddJob(record.CronSchedule(), &cronFiring{
		scheduler:  s,
		collection: collection,
		record:     record,
	})
	if err != nil {
		return fmt.Errorf("failed to add cron entry for %s: %w", key, err)
	}

	s.entries[key] = entryID
	return nil
}

func (s *CronScheduler) removeEntry(collection, name string) {
	key := collection + "/" + name

	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[key]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, key)
	}
}

// cronFiring implements cron.Job for one schedule's entry
type cronFiring struct {
	scheduler  *CronScheduler
	collection string
	record     model.Schedule
}

// Run implements cron.Job
func (f *cronFiring) Run() {
	f.scheduler.fire(f.collection, f.record)
}

func (s *CronScheduler) fire(collection string, record model.Schedule) {
	now := time.Now()
	firingID := uuid.New().String()

	event := FireEvent{
		ID:              firingID,
		Collection:      collection,
		Name:            record.Name(),
		CronSchedule:    record.CronSchedule(),
		EnvironmentVars: record.EnvironmentVars(),
		InterpreterPath: record.Context.InterpreterPath,
		SourcePath:      record.Context.SourcePath,
		FiredAt:         now,
	}

	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("Failed to marshal fire event",
			zap.String("name", record.Name()),
			zap.Error(err))
		return
	}

	subject := fmt.Sprintf("%s.%s", scheduleFireSubject, record.Name())
	if _, err := s.js.Publish(subject, data); err != nil {
		s.logger.Error("Failed to publish fire event",
			zap.String("name", record.Name()),
			zap.Error(err))
		return
	}

	s.logs.Append(collection, record.Name(), FiringLogEntry{
		Timestamp:  now,
		FiringID:   firingID,
		Collection: collection,
		Name:       record.Name(),
		Message:    fmt.Sprintf("fired %s (%s)", record.Name(), record.CronSchedule()),
	})

	if s.history != nil {
		firing := store.Firing{
			ID:         firingID,
			Collection: collection,
			Name:       record.Name(),
			FiredAt:    now,
		}
		if err := s.history.RecordFiring(context.Background(), firing); err != nil {
			s.logger.Error("Failed to record firing",
				zap.String("name", record.Name()),
				zap.Error(err))
		}
	}

	s.logger.Info("Schedule fired",
		zap.String("collection", collection),
		zap.String("name", record.Name()),
		zap.String("firing_id", firingID),
		zap.Time("fired_at", now))
}

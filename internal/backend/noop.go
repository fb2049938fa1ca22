package backend

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/t77yq/schedule-reconciler/internal/model"
	"github.com/t77yq/schedule-reconciler/internal/store"
)

// NoopScheduler flips schedule statuses through the store but drives no
// timer mechanism. Useful for dry runs and as a reference implementation
// of the status handling every backend shares.
type NoopScheduler struct {
	logger  *zap.Logger
	records store.RecordStore
	logDir  string
}

// NewNoopScheduler creates a scheduler that only maintains record state
func NewNoopScheduler(records store.RecordStore, logDir string, logger *zap.Logger) *NoopScheduler {
	return &NoopScheduler{
		logger:  logger.Named("noop-backend"),
		records: records,
		logDir:  logDir,
	}
}

// StartSchedule implements Scheduler.StartSchedule
func (s *NoopScheduler) StartSchedule(ctx context.Context, collection, name string) error {
	record, err := s.loadRecord(ctx, collection, name)
	if err != nil {
		return err
	}

	if !record.Status.CanTransitionTo(model.ScheduleStatusRunning) {
		return fmt.Errorf("start %s/%s from %s: %w", collection, name, record.Status, ErrInvalidTransition)
	}

	if err := s.records.UpdateRecord(ctx, collection, record.WithStatus(model.ScheduleStatusRunning)); err != nil {
		return fmt.Errorf("failed to mark schedule running: %w", err)
	}

	s.logger.Info("Started schedule",
		zap.String("collection", collection),
		zap.String("name", name))
	return nil
}

// StopSchedule implements Scheduler.StopSchedule
func (s *NoopScheduler) StopSchedule(ctx context.Context, collection, name string) error {
	record, err := s.loadRecord(ctx, collection, name)
	if err != nil {
		return err
	}

	if !record.Status.CanTransitionTo(model.ScheduleStatusStopped) {
		return fmt.Errorf("stop %s/%s from %s: %w", collection, name, record.Status, ErrInvalidTransition)
	}

	if err := s.records.UpdateRecord(ctx, collection, record.WithStatus(model.ScheduleStatusStopped)); err != nil {
		return fmt.Errorf("failed to mark schedule stopped: %w", err)
	}

	s.logger.Info("Stopped schedule",
		zap.String("collection", collection),
		zap.String("name", name))
	return nil
}

// EndSchedule implements Scheduler.EndSchedule
func (s *NoopScheduler) EndSchedule(ctx context.Context, collection, name string) error {
	record, err := s.loadRecord(ctx, collection, name)
	if err != nil {
		return err
	}

	if !record.Status.CanTransitionTo(model.ScheduleStatusEnded) {
		return fmt.Errorf("end %s/%s from %s: %w", collection, name, record.Status, ErrInvalidTransition)
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
func (s *NoopScheduler) GetLogPath(ctx context.Context, collection, name string) (string, error) {
	if _, err := s.loadRecord(ctx, collection, name); err != nil {
		return "", err
	}
	return filepath.Join(s.logDir, collection, name+".log"), nil
}

func (s *NoopScheduler) loadRecord(ctx context.Context, collection, name string) (*model.Schedule, error) {
	record, err := s.records.GetRecord(ctx, collection, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule record: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("schedule %s/%s: %w", collection, name, store.ErrNotFound)
	}
	return record, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-reconciler/internal/model"
)

// SQLiteStore implements RecordStore and FiringHistory using SQLite
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed record store
func NewSQLiteStore(logger *zap.Logger, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{
		logger: logger.Named("store"),
		db:     db,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schedules (
			collection TEXT NOT NULL,
			name TEXT NOT NULL,
			cron_schedule TEXT NOT NULL,
			environment_vars TEXT,
			status TEXT NOT NULL,
			interpreter_path TEXT,
			source_path TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (collection, name)
		);
		CREATE TABLE IF NOT EXISTS firing_history (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			name TEXT NOT NULL,
			fired_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_firing_history_schedule
			ON firing_history(collection, name);
		CREATE INDEX IF NOT EXISTS idx_firing_history_fired_at
			ON firing_history(fired_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// GetRecord implements RecordStore.GetRecord
func (s *SQLiteStore) GetRecord(ctx context.Context, collection, name string) (*model.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, cron_schedule, environment_vars, status, interpreter_path, source_path
		FROM schedules
		WHERE collection = ? AND name = ?`, collection, name)

	record, err := scanSchedule(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan schedule record: %w", err)
	}
	return record, nil
}

// AddRecord implements RecordStore.AddRecord
func (s *SQLiteStore) AddRecord(ctx context.Context, collection string, record model.Schedule) error {
	envStr, err := encodeEnv(record.EnvironmentVars())
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (
			collection, name, cron_schedule, environment_vars, status,
			interpreter_path, source_path
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		collection,
		record.Name(),
		record.CronSchedule(),
		envStr,
		string(record.Status),
		record.Context.InterpreterPath,
		record.Context.SourcePath,
	)
	if err != nil {
		return fmt.Errorf("failed to add schedule record %s/%s: %w", collection, record.Name(), err)
	}
	return nil
}

// UpdateRecord implements RecordStore.UpdateRecord
func (s *SQLiteStore) UpdateRecord(ctx context.Context, collection string, record model.Schedule) error {
	envStr, err := encodeEnv(record.EnvironmentVars())
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET
			cron_schedule = ?,
			environment_vars = ?,
			status = ?,
			interpreter_path = ?,
			source_path = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE collection = ? AND name = ?`,
		record.CronSchedule(),
		envStr,
		string(record.Status),
		record.Context.InterpreterPath,
		record.Context.SourcePath,
		collection,
		record.Name(),
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule record %s/%s: %w", collection, record.Name(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, record.Name(), ErrNotFound)
	}
	return nil
}

// AllRecords implements RecordStore.AllRecords
func (s *SQLiteStore) AllRecords(ctx context.Context, collection string) ([]model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, cron_schedule, environment_vars, status, interpreter_path, source_path
		FROM schedules
		WHERE collection = ?
		ORDER BY name`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule records: %w", err)
	}
	defer rows.Close()

	var records []model.Schedule
	for rows.Next() {
		record, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

// DeleteRecord implements RecordStore.DeleteRecord
func (s *SQLiteStore) DeleteRecord(ctx context.Context, collection, name string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM schedules WHERE collection = ? AND name = ?", collection, name)
	if err != nil {
		return fmt.Errorf("failed to delete schedule record %s/%s: %w", collection, name, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("delete %s/%s: %w", collection, name, ErrNotFound)
	}
	return nil
}

// RecordFiring implements FiringHistory.RecordFiring
func (s *SQLiteStore) RecordFiring(ctx context.Context, firing Firing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO firing_history (id, collection, name, fired_at)
		VALUES (?, ?, ?, ?)`,
		firing.ID, firing.Collection, firing.Name, firing.FiredAt)
	if err != nil {
		return fmt.Errorf("failed to record firing: %w", err)
	}
	return nil
}

// RecentFirings implements FiringHistory.RecentFirings
func (s *SQLiteStore) RecentFirings(ctx context.Context, collection, name string, limit int) ([]Firing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection, name, fired_at
		FROM firing_history
		WHERE collection = ? AND name = ?
		ORDER BY fired_at DESC
		LIMIT ?`, collection, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list firings: %w", err)
	}
	defer rows.Close()

	var firings []Firing
	for rows.Next() {
		var f Firing
		if err := rows.Scan(&f.ID, &f.Collection, &f.Name, &f.FiredAt); err != nil {
			return nil, fmt.Errorf("failed to scan firing: %w", err)
		}
		firings = append(firings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return firings, nil
}

// DeleteFiringsBefore implements FiringHistory.DeleteFiringsBefore
func (s *SQLiteStore) DeleteFiringsBefore(ctx context.Context, before time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM firing_history WHERE fired_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete firings: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old firing history",
		zap.Time("before", before),
		zap.Int64("deleted", affected))
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (*model.Schedule, error) {
	var (
		name, cronSchedule, status      string
		envStr, interpreter, sourcePath sql.NullString
	)

	err := row.Scan(&name, &cronSchedule, &envStr, &status, &interpreter, &sourcePath)
	if err != nil {
		return nil, err
	}

	var env map[string]string
	if envStr.Valid && envStr.String != "" {
		if err := json.Unmarshal([]byte(envStr.String), &env); err != nil {
			return nil, fmt.Errorf("failed to decode environment vars for %s: %w", name, err)
		}
	}

	record := model.NewSchedule(
		model.ScheduleDefinitionData{
			Name:            name,
			CronSchedule:    cronSchedule,
			EnvironmentVars: env,
		},
		model.ScheduleStatus(status),
		model.ExecutionContext{
			InterpreterPath: interpreter.String,
			SourcePath:      sourcePath.String,
		},
	)
	return &record, nil
}

func encodeEnv(env map[string]string) (string, error) {
	if len(env) == 0 {
		return "", nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode environment vars: %w", err)
	}
	return string(data), nil
}

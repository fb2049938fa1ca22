package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FiringLogEntry is one line in a schedule's firing log
type FiringLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	FiringID   string    `json:"firing_id"`
	Collection string    `json:"collection"`
	Name       string    `json:"name"`
	Message    string    `json:"message"`
}

// LogConfig defines configuration for firing log management
type LogConfig struct {
	LogDir        string        // Directory to store log files
	MaxFileSize   int64         // Maximum size of a log file in bytes
	MaxAge        time.Duration // Maximum age of log files
	FlushInterval time.Duration // Interval to flush logs to disk
}

// LogManager manages per-schedule firing logs. Each schedule gets a file
// at <logdir>/<collection>/<name>.log holding one JSON entry per firing.
type LogManager struct {
	logger  *zap.Logger
	config  LogConfig
	mu      sync.Mutex
	files   map[string]*os.File
	buffers map[string][]FiringLogEntry
}

// NewLogManager creates a new firing log manager
func NewLogManager(config LogConfig, logger *zap.Logger) (*LogManager, error) {
	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &LogManager{
		logger:  logger.Named("log-manager"),
		config:  config,
		files:   make(map[string]*os.File),
		buffers: make(map[string][]FiringLogEntry),
	}, nil
}

// Start starts the flush and rotation loops
func (lm *LogManager) Start(ctx context.Context) {
	go lm.flushLoop(ctx)
	go lm.rotateLoop(ctx)
}

// Stop flushes pending entries and closes all open files
func (lm *LogManager) Stop() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.flushLocked()
	for _, file := range lm.files {
		file.Close()
	}
	lm.files = make(map[string]*os.File)
}

// Path returns the log file location for a schedule
func (lm *LogManager) Path(collection, name string) string {
	return filepath.Join(lm.config.LogDir, collection, name+".log")
}

// Append buffers a firing log entry for a schedule
func (lm *LogManager) Append(collection, name string, entry FiringLogEntry) {
	key := collection + "/" + name

	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.buffers[key] = append(lm.buffers[key], entry)
}

// Remove flushes and deletes a schedule's log file
func (lm *LogManager) Remove(collection, name string) error {
	key := collection + "/" + name

	lm.mu.Lock()
	defer lm.mu.Unlock()

	delete(lm.buffers, key)
	if file, ok := lm.files[key]; ok {
		file.Close()
		delete(lm.files, key)
	}

	if err := os.Remove(lm.Path(collection, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove log file: %w", err)
	}
	return nil
}

// Flush writes all buffered entries to disk
func (lm *LogManager) Flush() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.flushLocked()
}

func (lm *LogManager) openLogFile(key string) (*os.File, error) {
	path := filepath.Join(lm.config.LogDir, key+".log")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// flushLoop periodically flushes buffered entries to disk
func (lm *LogManager) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(lm.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lm.Flush()
		}
	}
}

func (lm *LogManager) flushLocked() {
	for key, entries := range lm.buffers {
		if len(entries) == 0 {
			continue
		}

		file, ok := lm.files[key]
		if !ok {
			var err error
			file, err = lm.openLogFile(key)
			if err != nil {
				lm.logger.Error("Failed to open log file",
					zap.String("schedule", key),
					zap.Error(err))
				continue
			}
			lm.files[key] = file
		}

		encoder := json.NewEncoder(file)
		for _, entry := range entries {
			if err := encoder.Encode(entry); err != nil {
				lm.logger.Error("Failed to write log entry",
					zap.String("schedule", key),
					zap.Error(err))
			}
		}

		lm.buffers[key] = lm.buffers[key][:0]
	}
}

// rotateLoop periodically rotates log files
func (lm *LogManager) rotateLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lm.rotateLogs()
		}
	}
}

// rotateLogs rotates log files based on size and age
func (lm *LogManager) rotateLogs() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := time.Now()

	err := filepath.Walk(lm.config.LogDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		if lm.config.MaxAge > 0 && now.Sub(info.ModTime()) > lm.config.MaxAge {
			if err := os.Remove(path); err != nil {
				lm.logger.Error("Failed to remove old log file",
					zap.String("path", path),
					zap.Error(err))
			}
			return nil
		}

		if lm.config.MaxFileSize > 0 && info.Size() > lm.config.MaxFileSize {
			newPath := path + ".1"
			if err := os.Rename(path, newPath); err != nil {
				lm.logger.Error("Failed to rotate log file",
					zap.String("path", path),
					zap.Error(err))
			}
		}

		return nil
	})
	if err != nil {
		lm.logger.Error("Failed to rotate logs", zap.Error(err))
	}
}

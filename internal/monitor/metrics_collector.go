package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-reconciler/internal/reconcile"
)

const metricsSubject = "metrics.reconciler"

// ReconcileStats accumulates reconciliation outcomes since startup
type ReconcileStats struct {
	Passes          int `json:"passes"`
	RecordsAdded    int `json:"records_added"`
	RecordsUpdated  int `json:"records_updated"`
	Restarted       int `json:"restarted"`
	Ended           int `json:"ended"`
	BackendFailures int `json:"backend_failures"`
}

// MetricsCollector collects system and reconciliation metrics
type MetricsCollector struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	interval time.Duration
	mu       sync.RWMutex
	stats    ReconcileStats
	stop     chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(js nats.JetStreamContext, interval time.Duration, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		logger:   logger.Named("metrics-collector"),
		js:       js,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start ensures the metrics stream exists and starts the collection loop
func (c *MetricsCollector) Start(ctx context.Context) error {
	_, err := c.js.StreamInfo("METRICS")
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return fmt.Errorf("failed to get stream info: %w", err)
		}

		_, err = c.js.AddStream(&nats.StreamConfig{
			Name:     "METRICS",
			Subjects: []string{"metrics.*"},
			Storage:  nats.FileStorage,
			MaxAge:   24 * time.Hour,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}

	c.logger.Info("Starting metrics collector")
	go c.collectLoop(ctx)
	return nil
}

// Stop stops the metrics collector
func (c *MetricsCollector) Stop() {
	c.logger.Info("Stopping metrics collector")
	close(c.stop)
}

// ObserveReconcile records the outcome of one reconciliation pass
func (c *MetricsCollector) ObserveReconcile(summary *reconcile.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Passes++
	c.stats.RecordsAdded += summary.Added
	c.stats.RecordsUpdated += summary.Updated
	c.stats.Restarted += summary.Restarted
	c.stats.Ended += summary.Ended
}

// ObserveBackendFailure records one failed backend operation
func (c *MetricsCollector) ObserveBackendFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.BackendFailures++
}

// GetStats returns a copy of the accumulated stats
func (c *MetricsCollector) GetStats() ReconcileStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// collectLoop runs the metrics collection loop
func (c *MetricsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collectMetrics()
		}
	}
}

// collectMetrics collects system metrics and publishes a snapshot
func (c *MetricsCollector) collectMetrics() {
	cpuPercent, err := cpu.Percent(time.Second, false)
	if err != nil {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
		return
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
		return
	}

	metrics := struct {
		Timestamp   time.Time      `json:"timestamp"`
		CPUUsage    float64        `json:"cpu_usage"`
		MemoryUsage float64        `json:"memory_usage"`
		Reconcile   ReconcileStats `json:"reconcile"`
	}{
		Timestamp:   time.Now(),
		CPUUsage:    cpuPercent[0],
		MemoryUsage: memInfo.UsedPercent,
		Reconcile:   c.GetStats(),
	}

	data, err := json.Marshal(metrics)
	if err != nil {
		c.logger.Error("Failed to marshal metrics", zap.Error(err))
		return
	}

	if _, err := c.js.Publish(metricsSubject, data); err != nil {
		c.logger.Error("Failed to publish metrics", zap.Error(err))
		return
	}

	c.logger.Debug("Metrics collected",
		zap.Float64("cpu_usage", metrics.CPUUsage),
		zap.Float64("memory_usage", metrics.MemoryUsage),
		zap.Int("reconcile_passes", metrics.Reconcile.Passes))
}

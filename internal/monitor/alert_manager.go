package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityError    AlertSeverity = "error"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertRule fires when a schedule accumulates consecutive backend failures
type AlertRule struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Threshold int           `json:"threshold"`
	Severity  AlertSeverity `json:"severity"`
	Silenced  bool          `json:"silenced"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Alert represents an alert event
type Alert struct {
	ID         string        `json:"id"`
	RuleID     string        `json:"rule_id"`
	Severity   AlertSeverity `json:"severity"`
	Collection string        `json:"collection"`
	Schedule   string        `json:"schedule"`
	Message    string        `json:"message"`
	CreatedAt  time.Time     `json:"created_at"`
}

// AlertManager tracks backend failures per schedule and publishes alerts
// when a rule's threshold of consecutive failures is reached
type AlertManager struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	rules    sync.Map
	failures sync.Map
}

// NewAlertManager creates a new alert manager
func NewAlertManager(logger *zap.Logger, js nats.JetStreamContext) *AlertManager {
	return &AlertManager{
		logger: logger.Named("alert-manager"),
		js:     js,
	}
}

// Start ensures the alert stream exists
func (m *AlertManager) Start(ctx context.Context) error {
	_, err := m.js.StreamInfo("ALERTS")
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return fmt.Errorf("failed to get stream info: %w", err)
		}

		_, err = m.js.AddStream(&nats.StreamConfig{
			Name:     "ALERTS",
			Subjects: []string{"alert.*"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}

	m.logger.Info("Alert manager started")
	return nil
}

// AddRule adds a new alert rule
func (m *AlertManager) AddRule(rule *AlertRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.Threshold <= 0 {
		return fmt.Errorf("rule %s: threshold must be positive", rule.Name)
	}
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = rule.CreatedAt
	m.rules.Store(rule.ID, rule)
	return nil
}

// GetRule returns a rule by ID
func (m *AlertManager) GetRule(id string) (*AlertRule, error) {
	value, ok := m.rules.Load(id)
	if !ok {
		return nil, fmt.Errorf("rule not found: %s", id)
	}
	return value.(*AlertRule), nil
}

// DeleteRule deletes an alert rule
func (m *AlertManager) DeleteRule(id string) error {
	if _, ok := m.rules.Load(id); !ok {
		return fmt.Errorf("rule not found: %s", id)
	}
	m.rules.Delete(id)
	return nil
}

// RecordFailure notes a failed backend operation for a schedule and
// evaluates the rules against the consecutive failure count
func (m *AlertManager) RecordFailure(collection, name string, opErr error) {
	key := collection + "/" + name

	count := 1
	if value, ok := m.failures.Load(key); ok {
		count = value.(int) + 1
	}
	m.failures.Store(key, count)

	m.rules.Range(func(_, value interface{}) bool {
		rule := value.(*AlertRule)
		if rule.Silenced || count < rule.Threshold {
			return true
		}
		m.publishAlert(rule, collection, name, count, opErr)
		return true
	})
}

// RecordSuccess resets the consecutive failure count for a schedule
func (m *AlertManager) RecordSuccess(collection, name string) {
	m.failures.Delete(collection + "/" + name)
}

// FailureCount returns the current consecutive failure count
func (m *AlertManager) FailureCount(collection, name string) int {
	if value, ok := m.failures.Load(collection + "/" + name); ok {
		return value.(int)
	}
	return 0
}

func (m *AlertManager) publishAlert(rule *AlertRule, collection, name string, count int, opErr error) {
	alert := &Alert{
		ID:         uuid.New().String(),
		RuleID:     rule.ID,
		Severity:   rule.Severity,
		Collection: collection,
		Schedule:   name,
		Message: fmt.Sprintf("schedule %s/%s: %d consecutive backend failures, last: %v",
			collection, name, count, opErr),
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(alert)
	if err != nil {
		m.logger.Error("Failed to marshal alert", zap.Error(err))
		return
	}

	if _, err := m.js.Publish("alert.backend", data); err != nil {
		m.logger.Error("Failed to publish alert", zap.Error(err))
		return
	}

	m.logger.Warn("Alert published",
		zap.String("rule", rule.Name),
		zap.String("schedule", name),
		zap.Int("failures", count))
}

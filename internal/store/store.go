package store

import (
	"context"
	"errors"
	"time"

	"github.com/t77yq/schedule-reconciler/internal/model"
)

// ErrNotFound is returned when an operation references a schedule name
// with no matching record in the owning collection.
var ErrNotFound = errors.New("schedule record not found")

// RecordStore defines persistence for schedule records. Records are keyed
// by (collection, name) and at most one record exists per key.
type RecordStore interface {
	// GetRecord retrieves a record by name. Returns (nil, nil) when
	// no record exists.
	GetRecord(ctx context.Context, collection, name string) (*model.Schedule, error)

	// AddRecord inserts a new record. Fails if the name is taken.
	AddRecord(ctx context.Context, collection string, record model.Schedule) error

	// UpdateRecord replaces an existing record keyed by its name.
	// Returns ErrNotFound when no record exists.
	UpdateRecord(ctx context.Context, collection string, record model.Schedule) error

	// AllRecords lists every record in a collection.
	AllRecords(ctx context.Context, collection string) ([]model.Schedule, error)

	// DeleteRecord removes a record. Returns ErrNotFound when no record
	// exists. Only scheduler backends call this, through their End
	// operation, so deletion has a single owner.
	DeleteRecord(ctx context.Context, collection, name string) error
}

// Firing is a single observed firing of a schedule
type Firing struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	Name       string    `json:"name"`
	FiredAt    time.Time `json:"fired_at"`
}

// FiringHistory records schedule firings for later inspection
type FiringHistory interface {
	// RecordFiring stores one firing
	RecordFiring(ctx context.Context, firing Firing) error

	// RecentFirings lists the most recent firings for a schedule,
	// newest first
	RecentFirings(ctx context.Context, collection, name string, limit int) ([]Firing, error)

	// DeleteFiringsBefore prunes firings older than the given time
	DeleteFiringsBefore(ctx context.Context, before time.Time) error
}

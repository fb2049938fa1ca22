package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/schedule-reconciler/internal/backend"
	"github.com/t77yq/schedule-reconciler/internal/model"
	"github.com/t77yq/schedule-reconciler/internal/store"
)

// Reconciler brings the persisted schedule records of one collection into
// agreement with a declaratively authored list of schedule definitions.
// The definition list is the source of truth: records without a matching
// definition are stale and get ended.
type Reconciler struct {
	logger     *zap.Logger
	records    store.RecordStore
	scheduler  backend.Scheduler
	collection string
	execCtx    model.ExecutionContext
}

// Summary reports what one reconciliation pass did
type Summary struct {
	Added     int      `json:"added"`
	Updated   int      `json:"updated"`
	Restarted int      `json:"restarted"`
	Ended     int      `json:"ended"`
	Changes   []Change `json:"changes,omitempty"`
}

// New creates a reconciler for one owning collection. The execution
// context is stamped onto every record the reconciler writes.
func New(records store.RecordStore, scheduler backend.Scheduler, collection string, execCtx model.ExecutionContext, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		logger:     logger.Named("reconciler"),
		records:    records,
		scheduler:  scheduler,
		collection: collection,
		execCtx:    execCtx,
	}
}

// Reconcile runs one synchronous pass. Record writes for every desired
// definition happen before any backend call, so backend artifacts are
// always regenerated from the just-written definitions. The pass is not
// transactional across definitions: a failure propagates immediately and
// earlier effects stand, but re-running the whole pass is safe.
//
// A rewritten record whose status is RUNNING is always restarted
// (stop+start), even when no monitored field changed, so the backend
// artifact is rebuilt from the stored definition on every pass.
func (r *Reconciler) Reconcile(ctx context.Context, defs []model.ScheduleDefinitionData) (*Summary, error) {
	if err := validateDefinitions(defs); err != nil {
		return nil, err
	}

	existing, err := r.records.AllRecords(ctx, r.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to read current records: %w", err)
	}

	changes, err := ComputeChangeSet(existing, defs)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Changes: changes}

	// Phase 1: upsert a record for every desired definition.
	var restartCandidates []model.Schedule
	for _, def := range defs {
		record, err := r.records.GetRecord(ctx, r.collection, def.Name)
		if err != nil {
			return summary, fmt.Errorf("failed to load record %q: %w", def.Name, err)
		}

		if record != nil {
			updated := record.WithDefinition(def, r.execCtx)
			if err := r.records.UpdateRecord(ctx, r.collection, updated); err != nil {
				return summary, fmt.Errorf("failed to update record %q: %w", def.Name, err)
			}
			summary.Updated++
			restartCandidates = append(restartCandidates, updated)
		} else {
			created := model.NewSchedule(def, model.ScheduleStatusStopped, r.execCtx)
			if err := r.records.AddRecord(ctx, r.collection, created); err != nil {
				return summary, fmt.Errorf("failed to add record %q: %w", def.Name, err)
			}
			summary.Added++
		}
	}

	namesToEnd := staleNames(existing, defs)

	// Phase 2: drive the backend. Restart rewritten RUNNING schedules,
	// then end everything stale.
	for _, record := range restartCandidates {
		if record.Status != model.ScheduleStatusRunning {
			continue
		}

		if err := r.scheduler.StopSchedule(ctx, r.collection, record.Name()); err != nil {
			return summary, fmt.Errorf("backend stop %q: %w", record.Name(), err)
		}
		if err := r.scheduler.StartSchedule(ctx, r.collection, record.Name()); err != nil {
			return summary, fmt.Errorf("backend start %q: %w", record.Name(), err)
		}
		summary.Restarted++
	}

	for _, name := range namesToEnd {
		if err := r.scheduler.EndSchedule(ctx, r.collection, name); err != nil {
			return summary, fmt.Errorf("backend end %q: %w", name, err)
		}
		summary.Ended++
	}

	r.logger.Info("Reconciliation pass complete",
		zap.String("collection", r.collection),
		zap.Int("definitions", len(defs)),
		zap.Int("added", summary.Added),
		zap.Int("updated", summary.Updated),
		zap.Int("restarted", summary.Restarted),
		zap.Int("ended", summary.Ended))

	return summary, nil
}

// validateDefinitions rejects malformed or duplicate definitions before
// any store or backend mutation
func validateDefinitions(defs []model.ScheduleDefinitionData) error {
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return err
		}
		if _, ok := seen[def.Name]; ok {
			return fmt.Errorf("definition %q: %w", def.Name, ErrDuplicateDefinition)
		}
		seen[def.Name] = struct{}{}
	}
	return nil
}

// staleNames returns names present in the store but absent from the
// desired definitions
func staleNames(existing []model.Schedule, defs []model.ScheduleDefinitionData) []string {
	desired := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		desired[def.Name] = struct{}{}
	}

	var stale []string
	for _, record := range existing {
		if _, ok := desired[record.Name()]; !ok {
			stale = append(stale, record.Name())
		}
	}
	return stale
}

package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/t77yq/schedule-reconciler/internal/model"
)

// ChangeKind classifies one entry in a change set
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeUpdate ChangeKind = "change"
	ChangeRemove ChangeKind = "remove"
)

// FieldDiff records one monitored field whose value differs between the
// stored record and the desired definition
type FieldDiff struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// Change is one classified entry in a change set. Diffs is non-empty only
// for ChangeUpdate entries.
type Change struct {
	Kind  ChangeKind  `json:"kind"`
	Name  string      `json:"name"`
	Diffs []FieldDiff `json:"diffs,omitempty"`
}

// ComputeChangeSet compares stored records against desired definitions,
// both keyed by name, and classifies every difference. Names present in
// both sets with identical monitored fields produce no entry. Output
// order is unspecified; duplicate names on either side are an error.
func ComputeChangeSet(oldRecords []model.Schedule, newDefs []model.ScheduleDefinitionData) ([]Change, error) {
	oldByName := make(map[string]model.Schedule, len(oldRecords))
	for _, record := range oldRecords {
		if _, ok := oldByName[record.Name()]; ok {
			return nil, fmt.Errorf("record %q: %w", record.Name(), ErrDuplicateRecord)
		}
		oldByName[record.Name()] = record
	}

	newByName := make(map[string]model.ScheduleDefinitionData, len(newDefs))
	for _, def := range newDefs {
		if _, ok := newByName[def.Name]; ok {
			return nil, fmt.Errorf("definition %q: %w", def.Name, ErrDuplicateDefinition)
		}
		newByName[def.Name] = def
	}

	var changes []Change

	for name, def := range newByName {
		record, ok := oldByName[name]
		if !ok {
			changes = append(changes, Change{Kind: ChangeAdd, Name: name})
			continue
		}

		diffs := diffDefinitions(record.Definition, def)
		if len(diffs) > 0 {
			changes = append(changes, Change{Kind: ChangeUpdate, Name: name, Diffs: diffs})
		}
	}

	for name := range oldByName {
		if _, ok := newByName[name]; !ok {
			changes = append(changes, Change{Kind: ChangeRemove, Name: name})
		}
	}

	return changes, nil
}

// diffDefinitions reports every monitored field that differs
func diffDefinitions(oldDef, newDef model.ScheduleDefinitionData) []FieldDiff {
	var diffs []FieldDiff

	if oldDef.CronSchedule != newDef.CronSchedule {
		diffs = append(diffs, FieldDiff{
			Field: "cron_schedule",
			Old:   oldDef.CronSchedule,
			New:   newDef.CronSchedule,
		})
	}

	oldEnv := formatEnv(oldDef.EnvironmentVars)
	newEnv := formatEnv(newDef.EnvironmentVars)
	if oldEnv != newEnv {
		diffs = append(diffs, FieldDiff{
			Field: "environment_vars",
			Old:   oldEnv,
			New:   newEnv,
		})
	}

	return diffs
}

// formatEnv renders an environment mapping deterministically, sorted by key
func formatEnv(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+env[k])
	}
	return strings.Join(pairs, ",")
}

package model

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// ErrInvalidDefinition is returned when a schedule definition is malformed
var ErrInvalidDefinition = errors.New("invalid schedule definition")

// Standard 5-field cron expressions (minute through day-of-week).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks a definition before it touches the store or a backend
func (d ScheduleDefinitionData) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidDefinition)
	}
	if _, err := cronParser.Parse(d.CronSchedule); err != nil {
		return fmt.Errorf("%w: schedule %q has bad cron expression %q: %v",
			ErrInvalidDefinition, d.Name, d.CronSchedule, err)
	}
	return nil
}

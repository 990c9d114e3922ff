package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is a durable scheduling entry for a cron-triggered definition.
// The next execution time is precomputed so the scheduler can query due
// entries centrally instead of keeping per-definition timers.
type Schedule struct {
	// ID uniquely identifies this schedule entry
	ID string `json:"id" validate:"required"`

	// DefinitionID is the cron-triggered workflow definition this entry drives
	DefinitionID string `json:"definition_id" validate:"required"`

	// CronExpression uses standard 5-field cron format
	CronExpression string `json:"cron_expression" validate:"required"`

	// NextDueAt is the precomputed next execution time
	NextDueAt time.Time `json:"next_due_at" validate:"required"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Active indicates whether the poller should process this entry
	Active bool `json:"active"`
}

// ErrInvalidSchedule is returned when schedule validation fails.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

func cronParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}

// ValidateCron checks a 5-field cron expression parses.
func ValidateCron(expression string) error {
	_, err := cronParser().Parse(expression)

	return err
}

// NewSchedule creates a schedule entry with its first due time computed from now.
func NewSchedule(id, definitionID, cronExpression string, now time.Time) (*Schedule, error) {
	schedule := &Schedule{
		ID:             id,
		DefinitionID:   definitionID,
		CronExpression: cronExpression,
		CreatedAt:      now,
		UpdatedAt:      now,
		Active:         true,
	}

	if err := schedule.Advance(now); err != nil {
		return nil, err
	}

	return schedule, nil
}

// Advance recomputes NextDueAt from the given reference time.
func (s *Schedule) Advance(referenceTime time.Time) error {
	cronSchedule, err := cronParser().Parse(s.CronExpression)
	if err != nil {
		return err
	}

	s.NextDueAt = cronSchedule.Next(referenceTime)
	s.UpdatedAt = referenceTime

	return nil
}

// IsDue checks whether this entry should fire at the given time.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Active && !s.NextDueAt.After(now)
}

// Validate performs validation on the schedule fields.
func (s *Schedule) Validate() error {
	if s.ID == "" || s.DefinitionID == "" || s.CronExpression == "" {
		return ErrInvalidSchedule
	}

	return ValidateCron(s.CronExpression)
}

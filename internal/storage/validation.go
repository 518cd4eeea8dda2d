package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/davidbanez/park-angel-settlement/internal/model"
)

// Validation errors.
var (
	ErrNilContext       = errors.New("context cannot be nil")
	ErrEmptyString      = errors.New("string parameter cannot be empty")
	ErrNilParameter     = errors.New("parameter cannot be nil")
	ErrInvalidDateRange = errors.New("start date must be before end date")
	ErrInvalidRule      = errors.New("invalid commission rule")
	ErrInvalidShare     = errors.New("invalid revenue share")
	ErrInvalidSchedule  = errors.New("invalid remittance schedule")
	ErrInvalidRun       = errors.New("invalid remittance run")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateCommissionRule(rule *model.CommissionRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if rule.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidRule)
	}
	if !rule.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidRule, rule.Category)
	}
	if rule.EffectiveFrom.IsZero() {
		return fmt.Errorf("%w: missing effective-from date", ErrInvalidRule)
	}
	return nil
}

func validateRevenueShare(share *model.RevenueShare) error {
	if share == nil {
		return fmt.Errorf("%w: share", ErrNilParameter)
	}
	if share.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidShare)
	}
	if share.TransactionID == "" {
		return fmt.Errorf("%w: missing transaction ID", ErrInvalidShare)
	}
	if !share.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidShare, share.Category)
	}
	return nil
}

func validateSchedule(schedule *model.RemittanceSchedule) error {
	if schedule == nil {
		return fmt.Errorf("%w: schedule", ErrNilParameter)
	}
	if schedule.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidSchedule)
	}
	if schedule.RecipientID == "" {
		return fmt.Errorf("%w: missing recipient ID", ErrInvalidSchedule)
	}
	if !schedule.Frequency.Valid() {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidSchedule, schedule.Frequency)
	}
	return nil
}

func validateRemittanceRun(run *model.RemittanceRun) error {
	if run == nil {
		return fmt.Errorf("%w: run", ErrNilParameter)
	}
	if run.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidRun)
	}
	if run.ScheduleID == "" {
		return fmt.Errorf("%w: missing schedule ID", ErrInvalidRun)
	}
	return nil
}
